package model

import "time"

const (
	AuditRegister             = "auth.register"
	AuditLogin                = "auth.login"
	AuditRefresh              = "auth.refresh"
	AuditLogout               = "auth.logout"
	AuditReplayDetected       = "auth.replay_detected"
	AuditPasswordResetRequest = "auth.password_reset.request"
	AuditPasswordResetConfirm = "auth.password_reset.confirm"
	AuditEmailVerify          = "auth.email.verify"
	AuditEmailResend          = "auth.email.resend"
	AuditPasswordChange       = "auth.password.change"
	AuditRateLimited          = "ratelimit.denied"

	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

type AuditActor struct {
	UserID string `json:"user_id,omitempty"`
	IP     string `json:"ip,omitempty"`
}

type AuditEntry struct {
	Action     string     `json:"action"`
	OccurredAt time.Time  `json:"occurred_at"`
	Actor      AuditActor `json:"actor"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
}

type AuditQuery struct {
	ActorID string
	Action  string
	Status  string
	Page    int
	Limit   int
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
}
