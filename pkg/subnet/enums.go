package subnet

// Type classifies how much a trusted subnet's links are trusted at boot,
// which determines the initial State assigned during Table construction.
type Type int

const (
	// TrustedLinks marks links that are physically trusted from boot and
	// need no session key before cryptography can be used.
	TrustedLinks Type = iota
	// InitiallyUntrustedLinks marks links that must complete session key
	// setup before mutual authentication can proceed.
	InitiallyUntrustedLinks
	// UntrustedLinks marks links that must complete session key setup
	// with no further mutual authentication step.
	UntrustedLinks
)

// String returns a human-readable name for the subnet type.
func (t Type) String() string {
	switch t {
	case TrustedLinks:
		return "TrustedLinks"
	case InitiallyUntrustedLinks:
		return "InitiallyUntrustedLinks"
	case UntrustedLinks:
		return "UntrustedLinks"
	default:
		return "Unknown"
	}
}

// State is the lifecycle state of a trusted subnet's session key.
type State int

const (
	NotRegistered State = iota

	SessionKeySetupRequired
	SessionKeySetupInitiatorStarted
	SessionKeySetupSentClientRequest
	SessionKeySetupReceivedServerGetRequest
	SessionKeySetupReceivedClientRequest
	SessionKeyReceivedClientRequestServerReply
	SessionKeySetupSentGetIVMsg
	SessionKeySetupSentGetIVReply
	SessionKeySetupSentSendIVsMsg
	SessionKeySetupSentSendIVsReply

	ReKeyingRequired
	ReKeyingInitiatorStarted
	ReKeyingSentClientRequest
	ReKeyingReceivedClientRequestServerReply
	ReKeyingReceivedClientRequest
	ReKeyingSendSendIVsMsg
	ReKeyingReceivedSendIVsMsg

	SessionKeySetupValid
	SessionKeySetupNotRequired

	// MutualAuthRequired, MutualAuthSentAuthMsg, MutualAuthWaitingForAuthMsg,
	// and MutualAuthCompleted drive the AUTH_MSG exchange that
	// InitiallyUntrustedLinks subnets perform after session key setup.
	MutualAuthRequired
	MutualAuthSentAuthMsg
	MutualAuthWaitingForAuthMsg
	MutualAuthCompleted
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case NotRegistered:
		return "NotRegistered"
	case SessionKeySetupRequired:
		return "SessionKeySetupRequired"
	case SessionKeySetupInitiatorStarted:
		return "SessionKeySetupInitiatorStarted"
	case SessionKeySetupSentClientRequest:
		return "SessionKeySetupSentClientRequest"
	case SessionKeySetupReceivedServerGetRequest:
		return "SessionKeySetupReceivedServerGetRequest"
	case SessionKeySetupReceivedClientRequest:
		return "SessionKeySetupReceivedClientRequest"
	case SessionKeyReceivedClientRequestServerReply:
		return "SessionKeyReceivedClientRequestServerReply"
	case SessionKeySetupSentGetIVMsg:
		return "SessionKeySetupSentGetIVMsg"
	case SessionKeySetupSentGetIVReply:
		return "SessionKeySetupSentGetIVReply"
	case SessionKeySetupSentSendIVsMsg:
		return "SessionKeySetupSentSendIVsMsg"
	case SessionKeySetupSentSendIVsReply:
		return "SessionKeySetupSentSendIVsReply"
	case ReKeyingRequired:
		return "ReKeyingRequired"
	case ReKeyingInitiatorStarted:
		return "ReKeyingInitiatorStarted"
	case ReKeyingSentClientRequest:
		return "ReKeyingSentClientRequest"
	case ReKeyingReceivedClientRequestServerReply:
		return "ReKeyingReceivedClientRequestServerReply"
	case ReKeyingReceivedClientRequest:
		return "ReKeyingReceivedClientRequest"
	case ReKeyingSendSendIVsMsg:
		return "ReKeyingSendSendIVsMsg"
	case ReKeyingReceivedSendIVsMsg:
		return "ReKeyingReceivedSendIVsMsg"
	case SessionKeySetupValid:
		return "SessionKeySetupValid"
	case SessionKeySetupNotRequired:
		return "SessionKeySetupNotRequired"
	case MutualAuthRequired:
		return "MutualAuthRequired"
	case MutualAuthSentAuthMsg:
		return "MutualAuthSentAuthMsg"
	case MutualAuthWaitingForAuthMsg:
		return "MutualAuthWaitingForAuthMsg"
	case MutualAuthCompleted:
		return "MutualAuthCompleted"
	default:
		return "Unknown"
	}
}

// RequiresEncryption reports whether packets on a subnet in this state
// must carry cryptography metadata. A session key protects every
// re-key round (since one already exists to protect it with) and the
// mutual authentication exchange that follows initial key derivation,
// but not the initial key derivation itself — there is no key yet to
// encrypt it with — nor the two terminal states that precede and
// follow the handshake.
func (s State) RequiresEncryption() bool {
	switch s {
	case SessionKeySetupValid,
		ReKeyingRequired, ReKeyingInitiatorStarted, ReKeyingSentClientRequest,
		ReKeyingReceivedClientRequest, ReKeyingReceivedClientRequestServerReply,
		ReKeyingSendSendIVsMsg, ReKeyingReceivedSendIVsMsg,
		MutualAuthSentAuthMsg, MutualAuthWaitingForAuthMsg:
		return true
	default:
		return false
	}
}

// initialState maps a subnet Type to the State a freshly constructed
// Table assigns it, mirroring the default policy: trusted links need no
// setup, initially-untrusted links must derive a key before mutual
// authentication, and anything else must derive a key with no further
// authentication step.
func initialState(t Type) State {
	switch t {
	case TrustedLinks:
		return SessionKeySetupNotRequired
	case InitiallyUntrustedLinks:
		return MutualAuthRequired
	default:
		return SessionKeySetupRequired
	}
}

