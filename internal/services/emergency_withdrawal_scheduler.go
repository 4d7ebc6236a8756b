package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"collateral-backend/internal/metrics"
	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

// DefaultMaxBatch entries handled per scheduler cycle
const DefaultMaxBatch = 10

// ScanEntry one position eligible for emergency exit
type ScanEntry struct {
	User       string `json:"user"`
	PositionID uint64 `json:"position_id"`
}

// ScanResult bounded batch produced by Scan and consumed by Apply
type ScanResult struct {
	Entries      []ScanEntry `json:"entries"`
	Cursor       uint64      `json:"cursor"`
	NextCursor   uint64      `json:"next_cursor"`
	UsersVisited int         `json:"users_visited"`

	visited [][]uint64 // eligible position ids of each visited user, in cursor order
}

// TriggerPayload automation trigger wire form
type TriggerPayload struct {
	EligibleUsers     []string `json:"eligible_users"`
	EligiblePositions []uint64 `json:"eligible_positions"`
	NextCursor        uint64   `json:"next_cursor"`
}

// Payload converts the scan to the automation trigger payload
func (r *ScanResult) Payload() TriggerPayload {
	p := TriggerPayload{
		EligibleUsers:     make([]string, len(r.Entries)),
		EligiblePositions: make([]uint64, len(r.Entries)),
		NextCursor:        r.NextCursor,
	}
	for i, e := range r.Entries {
		p.EligibleUsers[i] = e.User
		p.EligiblePositions[i] = e.PositionID
	}
	return p
}

// ScanFromPayload rebuilds a scan result from an external trigger
func ScanFromPayload(p TriggerPayload) (*ScanResult, error) {
	if len(p.EligibleUsers) != len(p.EligiblePositions) {
		return nil, fmt.Errorf("%d users, %d positions: %w", len(p.EligibleUsers), len(p.EligiblePositions), ErrLengthMismatch)
	}
	r := &ScanResult{NextCursor: p.NextCursor, Entries: make([]ScanEntry, len(p.EligibleUsers))}
	for i := range p.EligibleUsers {
		r.Entries[i] = ScanEntry{User: p.EligibleUsers[i], PositionID: p.EligiblePositions[i]}
	}
	return r, nil
}

// ApplyFailure one entry Apply skipped
type ApplyFailure struct {
	Entry ScanEntry `json:"entry"`
	Error string    `json:"error"`
	Kind  ErrorKind `json:"kind"`
}

// ApplyReport outcome of one batch
type ApplyReport struct {
	Attempted      int            `json:"attempted"`
	Succeeded      int            `json:"succeeded"`
	Failures       []ApplyFailure `json:"failures"`
	PreviousCursor uint64         `json:"previous_cursor"`
	Cursor         uint64         `json:"cursor"`
}

// SchedulerConfig emergency withdrawal settings
type SchedulerConfig struct {
	EmergencyDelay time.Duration
	MaxBatch       int
	DefaultEnabled bool
}

// EmergencyWithdrawalScheduler bounded round-robin exit for opted-in users whose
// requests stay pending past the emergency delay
type EmergencyWithdrawalScheduler struct {
	txm    *TxManager
	repos  repository.Repositories
	ledger *PositionLedger
	cfg    SchedulerConfig
	now    func() time.Time
	log    *logrus.Entry
}

// NewEmergencyWithdrawalScheduler creates the scheduler
func NewEmergencyWithdrawalScheduler(txm *TxManager, ledger *PositionLedger, cfg SchedulerConfig) *EmergencyWithdrawalScheduler {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	return &EmergencyWithdrawalScheduler{
		txm:    txm,
		repos:  txm.Repos(),
		ledger: ledger,
		cfg:    cfg,
		now:    time.Now,
		log:    logrus.WithField("component", "emergency_scheduler"),
	}
}

// SetClock overrides the scheduler clock
func (s *EmergencyWithdrawalScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// OptIn enables automation for user. The first call appends the user to the round-robin order.
func (s *EmergencyWithdrawalScheduler) OptIn(ctx context.Context, user string) error {
	addr, err := validateAddress(user)
	if err != nil {
		return err
	}
	return s.txm.Do(ctx, func(tx *Tx) error {
		existing, err := tx.Repos.Automation.GetByAddress(ctx, addr)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			if err := tx.Repos.Automation.Create(ctx, &models.AutomationUser{Address: addr, OptedIn: true}); err != nil {
				return err
			}
		case existing.OptedIn:
			return nil
		default:
			if err := tx.Repos.Automation.SetOptIn(ctx, addr, true); err != nil {
				return err
			}
		}
		return tx.Record(ctx, "automation.opted_in", addr, "automation", map[string]interface{}{"user": addr})
	})
}

// OptOut disables automation for user; membership in the order is kept
func (s *EmergencyWithdrawalScheduler) OptOut(ctx context.Context, user string) error {
	addr, err := validateAddress(user)
	if err != nil {
		return err
	}
	return s.txm.Do(ctx, func(tx *Tx) error {
		existing, err := tx.Repos.Automation.GetByAddress(ctx, addr)
		if err != nil || existing == nil || !existing.OptedIn {
			return err
		}
		if err := tx.Repos.Automation.SetOptIn(ctx, addr, false); err != nil {
			return err
		}
		return tx.Record(ctx, "automation.opted_out", addr, "automation", map[string]interface{}{"user": addr})
	})
}

// IsOptedIn reports the user's automation flag
func (s *EmergencyWithdrawalScheduler) IsOptedIn(ctx context.Context, user string) (bool, error) {
	addr, err := validateAddress(user)
	if err != nil {
		return false, err
	}
	existing, err := s.repos.Automation.GetByAddress(ctx, addr)
	if err != nil || existing == nil {
		return false, err
	}
	return existing.OptedIn, nil
}

// Enabled reports whether automation is switched on
func (s *EmergencyWithdrawalScheduler) Enabled(ctx context.Context) (bool, error) {
	return automationEnabled(ctx, s.repos, s.cfg.DefaultEnabled)
}

// Cursor returns the persisted round-robin cursor
func (s *EmergencyWithdrawalScheduler) Cursor(ctx context.Context) (uint64, error) {
	return loadCursor(ctx, s.repos)
}

// Scan walks users from the cursor in insertion order collecting eligible positions,
// stopping at MaxBatch entries or after one full lap. Read-only.
func (s *EmergencyWithdrawalScheduler) Scan(ctx context.Context) (*ScanResult, error) {
	enabled, err := s.Enabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrAutomationDisabled
	}

	users, err := s.repos.Automation.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation users: %w", err)
	}
	cursor, err := loadCursor(ctx, s.repos)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Entries: []ScanEntry{}}
	total := uint64(len(users))
	if total == 0 {
		return result, nil
	}
	cursor %= total
	result.Cursor = cursor

	now := s.now()
	for i := uint64(0); i < total; i++ {
		user := users[(cursor+i)%total]
		if !user.OptedIn {
			result.UsersVisited++
			result.visited = append(result.visited, nil)
			continue
		}

		pending, err := s.repos.Positions.FindPendingByOwner(ctx, user.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending positions of %s: %w", user.Address, err)
		}
		var eligible []ScanEntry
		for _, p := range pending {
			if s.eligible(p, now) {
				eligible = append(eligible, ScanEntry{User: user.Address, PositionID: p.ID})
			}
		}

		room := s.cfg.MaxBatch - len(result.Entries)
		if len(eligible) > room {
			// a user is visited only once all of its positions fit; a lone oversized
			// user still contributes a partial batch so the cycle makes progress
			if len(result.Entries) == 0 {
				result.Entries = append(result.Entries, eligible[:room]...)
			}
			break
		}
		result.Entries = append(result.Entries, eligible...)
		result.UsersVisited++
		ids := make([]uint64, len(eligible))
		for j, e := range eligible {
			ids[j] = e.PositionID
		}
		result.visited = append(result.visited, ids)
		if len(result.Entries) == s.cfg.MaxBatch {
			break
		}
	}

	result.NextCursor = cursor + uint64(result.UsersVisited)
	return result, nil
}

// Apply re-validates and withdraws every entry in its own unit of work, skipping failures,
// then advances the cursor. The advance is re-derived from a fresh scan at the stored
// cursor and covers only the leading users whose eligible positions are all in the batch;
// the caller's NextCursor is never trusted.
func (s *EmergencyWithdrawalScheduler) Apply(ctx context.Context, scan *ScanResult) (*ApplyReport, error) {
	enabled, err := s.Enabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrAutomationDisabled
	}

	entries := scan.Entries
	if len(entries) > s.cfg.MaxBatch {
		entries = entries[:s.cfg.MaxBatch]
	}
	fresh, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	advance := coveredUsers(fresh, entries)

	report := &ApplyReport{Failures: []ApplyFailure{}}
	for _, entry := range entries {
		report.Attempted++
		if err := s.withdraw(ctx, entry); err != nil {
			report.Failures = append(report.Failures, ApplyFailure{Entry: entry, Error: err.Error(), Kind: KindOf(err)})
			metrics.AutomationWithdrawals.WithLabelValues("skipped").Inc()
			s.log.WithError(err).WithFields(logrus.Fields{
				"user":        entry.User,
				"position_id": entry.PositionID,
			}).Warn("⚠️ Emergency withdrawal skipped")
			continue
		}
		report.Succeeded++
		metrics.AutomationWithdrawals.WithLabelValues("succeeded").Inc()
	}

	err = s.txm.Do(ctx, func(tx *Tx) error {
		total, err := tx.Repos.Automation.Count(ctx)
		if err != nil {
			return err
		}
		previous, err := loadCursor(ctx, tx.Repos)
		if err != nil {
			return err
		}
		report.PreviousCursor = previous
		if total == 0 {
			report.Cursor = previous
			return nil
		}
		u := uint64(total)
		next := previous % u
		if next == fresh.Cursor {
			next = (next + advance) % u
		}
		if next == previous%u {
			next = (previous + 1) % u
		}
		report.Cursor = next
		if err := tx.Repos.GlobalConfig.Set(ctx, models.ConfigKeyAutomationCursor, strconv.FormatUint(next, 10), "scheduler", "round-robin cursor"); err != nil {
			return err
		}
		return tx.Record(ctx, "automation.batch_applied", "scheduler", "automation", map[string]interface{}{
			"attempted":       report.Attempted,
			"succeeded":       report.Succeeded,
			"failed":          len(report.Failures),
			"previous_cursor": previous,
			"cursor":          next,
		})
	})
	if err != nil {
		return report, fmt.Errorf("failed to advance cursor: %w", err)
	}

	metrics.AutomationCursor.Set(float64(report.Cursor))
	s.log.WithFields(logrus.Fields{
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"cursor":    report.Cursor,
	}).Info("🔁 Emergency withdrawal batch applied")
	return report, nil
}

// coveredUsers counts the leading visited users of fresh whose eligible positions all appear in entries
func coveredUsers(fresh *ScanResult, entries []ScanEntry) uint64 {
	inBatch := make(map[uint64]bool, len(entries))
	for _, e := range entries {
		inBatch[e.PositionID] = true
	}
	var n uint64
	for _, ids := range fresh.visited {
		for _, id := range ids {
			if !inBatch[id] {
				return n
			}
		}
		n++
	}
	return n
}

// RunCycle one Scan followed by Apply
func (s *EmergencyWithdrawalScheduler) RunCycle(ctx context.Context) (*ApplyReport, error) {
	scan, err := s.Scan(ctx)
	if err != nil {
		if errors.Is(err, ErrAutomationDisabled) {
			metrics.AutomationCycles.WithLabelValues("disabled").Inc()
		} else {
			metrics.AutomationCycles.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	report, err := s.Apply(ctx, scan)
	if err != nil {
		metrics.AutomationCycles.WithLabelValues("error").Inc()
		return report, err
	}
	metrics.AutomationCycles.WithLabelValues("ok").Inc()
	return report, nil
}

func (s *EmergencyWithdrawalScheduler) eligible(p *models.Position, now time.Time) bool {
	return p.HasPendingRequest && p.WithdrawnAt == nil && now.Sub(p.CreatedAt) >= s.cfg.EmergencyDelay
}

// withdraw re-checks one entry against current state and performs the exit
func (s *EmergencyWithdrawalScheduler) withdraw(ctx context.Context, entry ScanEntry) error {
	return s.txm.Do(ctx, func(tx *Tx) error {
		user, err := validateAddress(entry.User)
		if err != nil {
			return err
		}
		member, err := tx.Repos.Automation.GetByAddress(ctx, user)
		if err != nil {
			return err
		}
		if member == nil || !member.OptedIn {
			return fmt.Errorf("%s is not opted in: %w", user, ErrNotYetEligible)
		}
		position, err := getPosition(ctx, tx.Repos, entry.PositionID)
		if err != nil {
			return err
		}
		if !sameAddress(position.Owner, user) {
			return fmt.Errorf("position %d is not owned by %s: %w", position.ID, user, ErrUnauthorized)
		}
		if !position.HasPendingRequest || position.WithdrawnAt != nil {
			return fmt.Errorf("position %d: %w", position.ID, ErrNoPendingRequest)
		}
		if !s.eligible(position, s.now()) {
			return fmt.Errorf("position %d is younger than the emergency delay: %w", position.ID, ErrNotYetEligible)
		}

		basket, alreadyEmpty, err := s.ledger.WithTx(tx).ClearForWithdrawal(ctx, position.ID)
		if err != nil {
			return err
		}
		if alreadyEmpty {
			return fmt.Errorf("position %d: %w", position.ID, ErrNoPendingRequest)
		}
		if err := releaseCollateral(ctx, tx, position, basket); err != nil {
			return err
		}
		return tx.Record(ctx, "position.withdrawn", position.Owner, positionSubject(position.ID), map[string]interface{}{
			"position_id": position.ID,
			"request_id":  position.RequestID,
			"path":        "emergency",
		})
	})
}

func automationEnabled(ctx context.Context, repos repository.Repositories, fallback bool) (bool, error) {
	value, found, err := repos.GlobalConfig.Get(ctx, models.ConfigKeyAutomationEnabled)
	if err != nil {
		return false, err
	}
	if !found {
		return fallback, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", models.ConfigKeyAutomationEnabled, value, err)
	}
	return enabled, nil
}

func loadCursor(ctx context.Context, repos repository.Repositories) (uint64, error) {
	value, found, err := repos.GlobalConfig.Get(ctx, models.ConfigKeyAutomationCursor)
	if err != nil || !found || value == "" {
		return 0, err
	}
	cursor, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", models.ConfigKeyAutomationCursor, value, err)
	}
	return cursor, nil
}
