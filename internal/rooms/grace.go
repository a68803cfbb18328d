package rooms

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/thereayou/roomkit/internal/websocket"
)

// GraceJob snapshots what is needed to decide, later, whether a user left for good.
type GraceJob struct {
	UserID       uint
	ConnectionID string
	RoomCodes    []string
	DisconnectAt time.Time
}

// InactivityPolicy decides what happens once a user stayed gone for the grace period.
type InactivityPolicy interface {
	UserGone(ctx context.Context, job GraceJob) error
}

// MarkInactivePolicy flips the user to inactive and refreshes every room they were in.
type MarkInactivePolicy struct {
	Store       Store
	Broadcaster *Broadcaster
	Logger      *slog.Logger
}

func (p *MarkInactivePolicy) UserGone(ctx context.Context, job GraceJob) error {
	if err := p.Store.SetUserActive(ctx, job.UserID, false); err != nil {
		return err
	}
	for _, code := range job.RoomCodes {
		if err := p.Broadcaster.PublishCode(ctx, code); err != nil {
			p.Logger.Warn("presence refresh after grace period", "room", code, "error", err)
		}
	}
	return nil
}

func roomCodes(groups []string) []string {
	prefix := websocket.GroupName("")
	codes := make([]string, 0, len(groups))
	for _, g := range groups {
		if code, ok := strings.CutPrefix(g, prefix); ok && code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// runGraceJob re-checks liveness before applying the policy; a reconnect or
// a verify during the grace period wins.
func (c *Coordinator) runGraceJob(ctx context.Context, job GraceJob) {
	log := c.log.With("user_id", job.UserID, "conn_id", job.ConnectionID)

	if c.verification.IsVerified(ctx, job.UserID) {
		log.Debug("user verified during grace period")
		return
	}
	if c.registry.IsOnline(ctx, job.UserID) {
		log.Debug("user reconnected during grace period")
		return
	}

	if err := c.policy.UserGone(ctx, job); err != nil {
		log.Warn("inactivity policy failed", "error", err)
		return
	}
	c.metrics.inactive.Add(ctx, 1)
	log.Info("user marked gone after grace period", "rooms", len(job.RoomCodes))
}
