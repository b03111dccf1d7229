package scanner

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/caretech/alarm-sync/internal/pkg/application/alarms"
	"github.com/caretech/alarm-sync/internal/pkg/application/zonestate"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/logging"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/caretech/alarm-sync/pkg/axpro"
)

type Config struct {
	PollInterval     time.Duration
	PollJitter       time.Duration
	Debounce         time.Duration
	BurstCount       int
	BurstInterval    time.Duration
	TransportBackoff time.Duration
	Subsystem        int
	Login            RetryPolicy
}

// Scanner is the single writer of zone state. It polls the panel,
// feeds every zone through the state machine and raises alarm records
// through the alarm service.
type Scanner interface {
	Run(ctx context.Context) error
}

func New(panel axpro.Client, zones database.ZoneRepository, alarmSvc alarms.AlarmService, flags database.ControlFlags, cfg Config) Scanner {
	return &scanner{
		panel:    panel,
		zones:    zones,
		alarmSvc: alarmSvc,
		flags:    flags,
		cfg:      cfg,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

type scanner struct {
	panel    axpro.Client
	zones    database.ZoneRepository
	alarmSvc alarms.AlarmService
	flags    database.ControlFlags
	cfg      Config

	session       axpro.Session
	loginFailures int

	rnd *rand.Rand
	now func() time.Time
}

func (s *scanner) Run(ctx context.Context) error {
	for {
		delay := s.runCycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runCycle performs one scan cycle and returns how long to wait before
// the next one. The heartbeat is written before anything else so that a
// panel outage never reads as a dead scanner.
func (s *scanner) runCycle(ctx context.Context) time.Duration {
	logger := logging.GetFromContext(ctx)
	now := s.now()

	if err := s.flags.Heartbeat(ctx, database.FlagScannerHeartbeat, now); err != nil {
		logger.Error().Err(err).Msg("failed to write scanner heartbeat")
	}

	if !s.session.Valid() {
		session, err := s.panel.Login(ctx)
		if err != nil {
			s.loginFailures++
			delay, cooldown := s.cfg.Login.DelayFor(s.loginFailures)
			if cooldown {
				s.loginFailures = 0
				logger.Error().Err(err).Int("maxattempts", s.cfg.Login.MaxAttempts).Msg("panel login keeps failing, backing off")
			} else {
				logger.Warn().Err(err).Int("failures", s.loginFailures).Msg("panel login failed")
			}
			return delay
		}

		s.session = session
		s.loginFailures = 0
		logger.Info().Msg("panel session established")
	}

	// A pending reset outranks everything else this cycle. The flag is
	// cleared only after the panel accepted the command, so a failed
	// attempt is retried next cycle.
	resetRequested, err := s.flags.Get(ctx, database.FlagResetRequest)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read reset request flag")
	} else if resetRequested != 0 {
		if err := s.panel.ClearAlarms(ctx, s.session, s.cfg.Subsystem); err != nil {
			return s.handlePanelError(ctx, err)
		}
		if err := s.flags.Set(ctx, database.FlagResetRequest, 0); err != nil {
			logger.Error().Err(err).Msg("failed to clear reset request flag")
		}
		logger.Info().Msg("panel alarms cleared on request")
	}

	changed, err := s.poll(ctx, now)
	if err != nil {
		return s.handlePanelError(ctx, err)
	}

	if changed {
		s.burst(ctx)
	}

	return s.idleDelay()
}

// burst re-polls a few times in quick succession right after a change,
// so a cleared or raised zone settles without waiting a full interval.
func (s *scanner) burst(ctx context.Context) {
	logger := logging.GetFromContext(ctx)

	for i := 0; i < s.cfg.BurstCount; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.BurstInterval):
		}

		if _, err := s.poll(ctx, s.now()); err != nil {
			logger.Warn().Err(err).Msg("burst poll failed")
			return
		}
	}
}

// poll fetches the zone list and runs every zone through the state
// machine. It reports whether any zone changed alarm state.
func (s *scanner) poll(ctx context.Context, now time.Time) (bool, error) {
	logger := logging.GetFromContext(ctx)

	statuses, err := s.panel.ZoneStatus(ctx, s.session)
	if err != nil {
		return false, err
	}

	changed := false

	for _, st := range statuses {
		zone, err := s.zones.GetByID(ctx, st.ID)
		if err != nil {
			if !errors.Is(err, database.ErrZoneNotFound) {
				logger.Error().Err(err).Int("zoneid", st.ID).Msg("failed to load zone")
				continue
			}

			if err := s.zones.Upsert(ctx, st.ID, st.Name); err != nil {
				logger.Error().Err(err).Int("zoneid", st.ID).Msg("failed to register zone")
				continue
			}
			zone = database.Zone{ID: st.ID, Name: st.Name}
			logger.Info().Int("zoneid", st.ID).Str("name", st.Name).Msg("new zone registered")
		}

		updated, action := zonestate.Evaluate(zone, st.Alarm, st.Name, now, s.cfg.Debounce)

		if err := s.zones.SaveState(ctx, updated); err != nil {
			logger.Error().Err(err).Int("zoneid", st.ID).Msg("failed to save zone state")
			continue
		}

		switch action {
		case zonestate.ActionRaise:
			if err := s.alarmSvc.Raise(ctx, updated, now); err != nil {
				logger.Error().Err(err).Int("zoneid", st.ID).Msg("failed to raise alarm")
			}
			changed = true
		case zonestate.ActionClear:
			logger.Info().Int("zoneid", st.ID).Msg("zone returned to normal")
			changed = true
		}
	}

	return changed, nil
}

// handlePanelError drops the session on transport or auth failures so
// the next cycle starts with a fresh login, and returns a short backoff.
func (s *scanner) handlePanelError(ctx context.Context, err error) time.Duration {
	logger := logging.GetFromContext(ctx)

	if errors.Is(err, axpro.ErrTransport) || errors.Is(err, axpro.ErrAuth) {
		s.session = axpro.Session{}
	}

	logger.Error().Err(err).Msg("panel communication failed")
	return s.cfg.TransportBackoff
}

func (s *scanner) idleDelay() time.Duration {
	delay := s.cfg.PollInterval
	if s.cfg.PollJitter > 0 {
		delay += time.Duration(s.rnd.Int63n(int64(s.cfg.PollJitter)))
	}
	return delay
}
