package reverts

// Admissibility
var (
	ErrUnknownRelayWorker    = New(KindAdmissibility, "UnknownRelayWorker", "relay worker is not registered")
	ErrRelayManagerNotStaked = New(KindAdmissibility, "RelayManagerNotStaked", "relay manager not staked")
	ErrRequestExpired        = New(KindAdmissibility, "RequestExpired", "request validUntilTime has passed")
	ErrHubDeprecated         = New(KindAdmissibility, "HubDeprecated", "relay hub is deprecated")
	ErrWrongRelayWorker      = New(KindAdmissibility, "WrongRelayWorker", "caller is not the request's relay worker")
	ErrInvalidSignature      = New(KindAdmissibility, "InvalidSignature", "signature does not match request sender")
	ErrInvalidNonce          = New(KindAdmissibility, "InvalidNonce", "nonce mismatch")
	ErrUntrustedForwarder    = New(KindAdmissibility, "UntrustedForwarder", "forwarder is not trusted by paymaster")
	ErrReentrancy            = New(KindAdmissibility, "Reentrancy", "reentrant call")
	ErrTierTooLow            = New(KindAdmissibility, "TierTooLow", "user tier below required minimum")
	ErrAuditorTierMismatch   = New(KindAdmissibility, "AuditorTierMismatch", "claimed auditor tier exceeds actual tier")
	ErrUnknownPaymaster      = New(KindAdmissibility, "UnknownPaymaster", "paymaster is not registered with the hub")
	ErrRelayFeeTooLow        = New(KindAdmissibility, "RelayFeeTooLow", "relay fee below hub minimum")
	ErrGasLimitTooHigh       = New(KindAdmissibility, "GasLimitTooHigh", "request gas overflows the worst-case gas budget")
	ErrTemplateDeprecated    = New(KindAdmissibility, "TemplateDeprecated", "template is deprecated")
)

// Economic
var (
	ErrPaymasterBalanceLow      = New(KindEconomic, "PaymasterBalanceLow", "paymaster balance too low")
	ErrAcceptanceBudgetHigh     = New(KindEconomic, "AcceptanceBudgetHigh", "acceptance budget exceeds worker limit")
	ErrInsufficientAllowance    = New(KindEconomic, "InsufficientAllowance", "insufficient token allowance")
	ErrInsufficientBalance      = New(KindEconomic, "InsufficientBalance", "insufficient balance")
	ErrInsufficientTokenDeposit = New(KindEconomic, "InsufficientTokenDeposit", "insufficient fee token deposit")
	ErrInsufficientStake        = New(KindEconomic, "InsufficientStake", "insufficient stake")
	ErrZeroDeposit              = New(KindEconomic, "ZeroDeposit", "zero deposit")
	ErrZeroWithdraw             = New(KindEconomic, "ZeroWithdraw", "zero withdraw")
	ErrZeroAmount               = New(KindEconomic, "ZeroAmount", "amount must be positive")
	ErrDepositTooBig            = New(KindEconomic, "DepositTooBig", "deposit exceeds maximum recipient deposit")
	ErrRewardPoolDepleted       = New(KindEconomic, "RewardPoolDepleted", "reward pool cannot cover reward")
	ErrRecoverEarmarked         = New(KindEconomic, "RecoverEarmarked", "amount exceeds free balance; user deposits are earmarked")
)

// Authorization
var (
	ErrUnauthorized    = New(KindUnauthorized, "Unauthorized", "account lacks required role")
	ErrNotOwner        = New(KindUnauthorized, "NotOwner", "caller is not the owner")
	ErrNotProjectOwner = New(KindUnauthorized, "NotProjectOwner", "caller is not the project owner")
)

// Temporal
var (
	ErrStakeLocked       = New(KindTooEarly, "StakeLocked", "stake is still locked")
	ErrCooldownInEffect  = New(KindTooEarly, "CooldownInEffect", "cooldown in effect")
	ErrEscheatmentNotDue = New(KindTooEarly, "EscheatmentNotDue", "stake is not yet abandoned")
)

// State
var (
	ErrNoStake               = New(KindNotFound, "NoStake", "no stake")
	ErrStakeNotUnlocked      = New(KindNotFound, "StakeNotUnlocked", "stake is not unlocked")
	ErrAlreadyUnlocked       = New(KindNotFound, "AlreadyUnlocked", "stake already unlocked")
	ErrAuditDoesNotExist     = New(KindNotFound, "AuditDoesNotExist", "audit does not exist")
	ErrAuditAlreadyFinalized = New(KindNotFound, "AuditAlreadyFinalized", "audit already verified")
	ErrDeprecationAlreadySet = New(KindNotFound, "DeprecationAlreadySet", "deprecation time already set")
	ErrWorkerAlreadyAdded    = New(KindNotFound, "WorkerAlreadyRegistered", "relay worker already registered")
	ErrTemplateDoesNotExist  = New(KindNotFound, "TemplateDoesNotExist", "template does not exist")
	ErrTemplateExists        = New(KindNotFound, "TemplateExists", "template already registered")
	ErrProjectDoesNotExist   = New(KindNotFound, "ProjectDoesNotExist", "project does not exist")
)

// Input
var (
	ErrReportURIRequired     = New(KindInvalidInput, "ReportURIRequired", "report URI required")
	ErrDisputeReasonRequired = New(KindInvalidInput, "DisputeReasonRequired", "dispute reason required")
	ErrDelayTooShort         = New(KindInvalidInput, "DelayTooShort", "unstake delay cannot be decreased or below minimum")
	ErrDelayTooLong          = New(KindInvalidInput, "DelayTooLong", "unstake delay exceeds maximum")
	ErrTokenMismatch         = New(KindInvalidInput, "TokenMismatch", "stake token differs from existing stake")
	ErrTokenNotAllowed       = New(KindInvalidInput, "TokenNotAllowed", "token has no minimum stake configured")
	ErrDiscountOutOfRange    = New(KindInvalidInput, "DiscountOutOfRange", "discount must be at most 10000 bps")
	ErrRateOutOfRange        = New(KindInvalidInput, "RateOutOfRange", "rate out of range")
	ErrTooManyWorkers        = New(KindInvalidInput, "TooManyWorkers", "too many relay workers")
	ErrInvalidShares         = New(KindInvalidInput, "InvalidShares", "shares must sum to 10000 bps")
	ErrInvalidConfig         = New(KindInvalidInput, "InvalidConfig", "invalid configuration")
	ErrTemplateNameRequired  = New(KindInvalidInput, "TemplateNameRequired", "template name and version required")
	ErrProjectNameRequired   = New(KindInvalidInput, "ProjectNameRequired", "project name required")
)
