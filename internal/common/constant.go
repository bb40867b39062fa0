package common

// Names of the system identities created by the credential tool when an
// operator is initialized with a system account.
const (
	SystemAccountName = "SYS"
	SystemUserName    = "sys"
)

// Job identifiers used as scheduler dedup keys.
const (
	JobSyncAccounts         = "nats||sync_accounts"
	JobProcessRevokeRequest = "nats||process_revoke_requests"
	JobProcessRevertRequest = "nats||process_revert_revocation_requests"
	JobSyncInfo             = "nats||sync_info"
)

// DefaultBatchSize caps how many pending records a single reconciliation pass
// picks up.
const DefaultBatchSize = 50
