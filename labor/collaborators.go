package labor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUTHORIZATION
// =============================================================================

type Permission string

const (
	PermEntriesApprove Permission = "entries.approve"
	PermEntriesReject  Permission = "entries.reject"
	PermEntriesVoid    Permission = "entries.void"
	PermEntriesExport  Permission = "entries.export"
	PermRatesEdit      Permission = "rates.edit"
)

// Authorizer answers permission checks. Identity is established upstream.
type Authorizer interface {
	Allowed(ctx context.Context, userID string, perm Permission) (bool, error)
}

func authorize(ctx context.Context, a Authorizer, userID string, perm Permission) error {
	if a == nil {
		return nil
	}
	ok, err := a.Allowed(ctx, userID, perm)
	if err != nil {
		return fmt.Errorf("check %s for %q: %w", perm, userID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q lacks %s", ErrForbidden, userID, perm)
	}
	return nil
}

// AllowAll grants every permission. For local development and tests.
type AllowAll struct{}

func (AllowAll) Allowed(context.Context, string, Permission) (bool, error) { return true, nil }

// StaticAuthorizer grants permissions through a fixed user -> roles -> permissions map.
type StaticAuthorizer struct {
	UserRoles map[string][]string
	RolePerms map[string][]Permission
}

func (s *StaticAuthorizer) Allowed(_ context.Context, userID string, perm Permission) (bool, error) {
	for _, role := range s.UserRoles[userID] {
		for _, p := range s.RolePerms[role] {
			if p == perm {
				return true, nil
			}
		}
	}
	return false, nil
}

// DefaultRolePermissions is the role table used when the server is configured
// with user roles but no custom table.
func DefaultRolePermissions() map[string][]Permission {
	return map[string][]Permission{
		"approver":      {PermEntriesApprove, PermEntriesReject},
		"payroll_admin": {PermEntriesApprove, PermEntriesReject, PermEntriesVoid, PermEntriesExport, PermRatesEdit},
		"rate_admin":    {PermRatesEdit},
	}
}

// FallbackAuthorizer consults Primary and, if Primary errors, Fallback. Every
// fallback decision is logged and counted so degraded authorization is visible.
type FallbackAuthorizer struct {
	Primary  Authorizer
	Fallback Authorizer
	Logger   *zap.Logger
	Metrics  Metrics
}

func (f *FallbackAuthorizer) Allowed(ctx context.Context, userID string, perm Permission) (bool, error) {
	ok, err := f.Primary.Allowed(ctx, userID, perm)
	if err == nil {
		return ok, nil
	}
	if f.Metrics != nil {
		f.Metrics.AuthorizationDegraded()
	}
	if f.Logger != nil {
		f.Logger.Warn("authorization degraded to fallback", logFields(ctx,
			zap.String("user_id", userID),
			zap.String("permission", string(perm)),
			zap.Error(err),
		)...)
	}
	return f.Fallback.Allowed(ctx, userID, perm)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationType string

const (
	NotifyEntryApproved NotificationType = "entry_approved"
	NotifyEntryRejected NotificationType = "entry_rejected"
)

type Notification struct {
	Type          NotificationType
	EntryID       EntryID
	WorkerID      WorkerID
	Actor         string
	Reason        string
	CorrelationID CorrelationID
	At            time.Time
}

// Notifier is fire-and-forget from the core's point of view: it runs after
// commit and its errors never undo a mutation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.Logger.Info("notification", logFields(ctx,
		zap.String("type", string(n.Type)),
		zap.String("entry_id", string(n.EntryID)),
		zap.String("worker_id", string(n.WorkerID)),
		zap.String("actor", n.Actor),
		zap.String("reason", n.Reason),
	)...)
	return nil
}
