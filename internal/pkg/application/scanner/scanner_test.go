package scanner

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/caretech/alarm-sync/internal/pkg/application/alarms"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/caretech/alarm-sync/pkg/axpro"
	"github.com/matryer/is"
)

func TestHeartbeatIsWrittenEvenWhenLoginFails(t *testing.T) {
	is, ctx, f := testSetup(t)

	f.panel.login = func(ctx context.Context) (axpro.Session, error) {
		return axpro.Session{}, fmt.Errorf("%w: connection refused", axpro.ErrTransport)
	}

	f.scanner.runCycle(ctx)

	hb, err := f.flags.Get(ctx, database.FlagScannerHeartbeat)
	is.NoErr(err)
	is.True(hb > 0)
}

func TestLoginRetryBacksOffAfterMaxAttempts(t *testing.T) {
	is, ctx, f := testSetup(t)

	f.panel.login = func(ctx context.Context) (axpro.Session, error) {
		return axpro.Session{}, fmt.Errorf("%w: connection refused", axpro.ErrTransport)
	}

	policy := f.scanner.cfg.Login

	for i := 1; i < policy.MaxAttempts; i++ {
		delay := f.scanner.runCycle(ctx)
		is.Equal(delay, policy.Delay)
	}

	// attempt number MaxAttempts triggers the long cooldown
	delay := f.scanner.runCycle(ctx)
	is.Equal(delay, policy.Cooldown)

	// and the counter starts over
	delay = f.scanner.runCycle(ctx)
	is.Equal(delay, policy.Delay)
}

func TestLoginHappensOncePerSession(t *testing.T) {
	is, ctx, f := testSetup(t)

	f.scanner.runCycle(ctx)
	f.scanner.runCycle(ctx)

	is.Equal(f.panel.loginCalls, 1)
}

func TestNewZoneIsRegisteredAndRaised(t *testing.T) {
	is, ctx, f := testSetup(t)

	f.panel.zoneStatus = func(ctx context.Context, _ axpro.Session) ([]axpro.ZoneStatus, error) {
		return []axpro.ZoneStatus{{ID: 3, Name: "Room 12", Alarm: true}}, nil
	}

	f.scanner.runCycle(ctx)

	zone, err := f.zones.GetByID(ctx, 3)
	is.NoErr(err)
	is.Equal(zone.Name, "Room 12")
	is.True(zone.AlarmStatus)

	active, err := f.alarmSvc.ActiveAlarms(ctx)
	is.NoErr(err)
	is.Equal(len(active), 1)
	is.Equal(active[0].ZoneID, 3)
}

func TestQuietZonesProduceNoRecords(t *testing.T) {
	is, ctx, f := testSetup(t)

	f.panel.zoneStatus = func(ctx context.Context, _ axpro.Session) ([]axpro.ZoneStatus, error) {
		return []axpro.ZoneStatus{
			{ID: 3, Name: "Room 12", Alarm: false},
			{ID: 4, Name: "Room 14", Alarm: false},
		}, nil
	}

	f.scanner.runCycle(ctx)

	active, err := f.alarmSvc.ActiveAlarms(ctx)
	is.NoErr(err)
	is.Equal(len(active), 0)

	is.Equal(f.panel.statusCalls, 1)
}

func TestResetRequestClearsPanel(t *testing.T) {
	is, ctx, f := testSetup(t)

	err := f.flags.Set(ctx, database.FlagResetRequest, 1)
	is.NoErr(err)

	f.scanner.runCycle(ctx)

	is.Equal(f.panel.clearCalls, 1)

	reset, err := f.flags.Get(ctx, database.FlagResetRequest)
	is.NoErr(err)
	is.Equal(reset, int64(0))
}

func TestResetRequestIsRetriedWhenPanelFails(t *testing.T) {
	is, ctx, f := testSetup(t)

	err := f.flags.Set(ctx, database.FlagResetRequest, 1)
	is.NoErr(err)

	f.panel.clearAlarms = func(ctx context.Context, _ axpro.Session, _ int) error {
		return fmt.Errorf("%w: connection reset", axpro.ErrTransport)
	}

	delay := f.scanner.runCycle(ctx)
	is.Equal(delay, f.scanner.cfg.TransportBackoff)

	// the flag stays up so the next session retries the reset
	reset, err := f.flags.Get(ctx, database.FlagResetRequest)
	is.NoErr(err)
	is.Equal(reset, int64(1))
}

func TestBurstPollingAfterChange(t *testing.T) {
	is, ctx, f := testSetup(t)

	f.scanner.cfg.BurstCount = 2

	f.panel.zoneStatus = func(ctx context.Context, _ axpro.Session) ([]axpro.ZoneStatus, error) {
		return []axpro.ZoneStatus{{ID: 3, Name: "Room 12", Alarm: true}}, nil
	}

	f.scanner.runCycle(ctx)

	// the initial poll plus two burst polls
	is.Equal(f.panel.statusCalls, 3)
}

func TestTransportErrorInvalidatesSession(t *testing.T) {
	is, ctx, f := testSetup(t)

	f.panel.zoneStatus = func(ctx context.Context, _ axpro.Session) ([]axpro.ZoneStatus, error) {
		return nil, fmt.Errorf("%w: broken pipe", axpro.ErrTransport)
	}

	delay := f.scanner.runCycle(ctx)
	is.Equal(delay, f.scanner.cfg.TransportBackoff)
	is.True(!f.scanner.session.Valid())

	f.panel.zoneStatus = nil
	f.scanner.runCycle(ctx)

	is.Equal(f.panel.loginCalls, 2)
}

func TestIdleDelayIsJittered(t *testing.T) {
	is, _, f := testSetup(t)

	f.scanner.cfg.PollInterval = 2 * time.Second
	f.scanner.cfg.PollJitter = 500 * time.Millisecond

	for i := 0; i < 100; i++ {
		delay := f.scanner.idleDelay()
		is.True(delay >= 2*time.Second)
		is.True(delay < 2500*time.Millisecond)
	}
}

type panelMock struct {
	login       func(ctx context.Context) (axpro.Session, error)
	zoneStatus  func(ctx context.Context, session axpro.Session) ([]axpro.ZoneStatus, error)
	clearAlarms func(ctx context.Context, session axpro.Session, subsystem int) error

	loginCalls  int
	statusCalls int
	clearCalls  int
}

func (m *panelMock) Login(ctx context.Context) (axpro.Session, error) {
	m.loginCalls++
	if m.login != nil {
		return m.login(ctx)
	}
	return axpro.Session{Cookie: "WebSession=abc"}, nil
}

func (m *panelMock) ZoneStatus(ctx context.Context, session axpro.Session) ([]axpro.ZoneStatus, error) {
	m.statusCalls++
	if m.zoneStatus != nil {
		return m.zoneStatus(ctx, session)
	}
	return []axpro.ZoneStatus{}, nil
}

func (m *panelMock) ClearAlarms(ctx context.Context, session axpro.Session, subsystem int) error {
	m.clearCalls++
	if m.clearAlarms != nil {
		return m.clearAlarms(ctx, session, subsystem)
	}
	return nil
}

type fixture struct {
	scanner  *scanner
	panel    *panelMock
	zones    database.ZoneRepository
	alarmSvc alarms.AlarmService
	flags    database.ControlFlags
}

func testSetup(t *testing.T) (*is.I, context.Context, fixture) {
	is := is.New(t)
	ctx := context.Background()
	conn := database.NewInMemoryConnector(ctx)

	zones, err := database.NewZoneRepository(conn)
	is.NoErr(err)
	alarmRepo, err := database.NewAlarmRepository(conn)
	is.NoErr(err)
	registry, err := database.NewRegistryRepository(conn)
	is.NoErr(err)
	flags, err := database.NewControlFlags(conn)
	is.NoErr(err)

	alarmSvc := alarms.New(alarmRepo, zones, registry, flags, alarms.Config{
		CooldownDuration: 300 * time.Second,
	})

	panel := &panelMock{}

	s := &scanner{
		panel:    panel,
		zones:    zones,
		alarmSvc: alarmSvc,
		flags:    flags,
		cfg: Config{
			PollInterval:     2 * time.Second,
			Debounce:         60 * time.Second,
			BurstCount:       0,
			BurstInterval:    0,
			TransportBackoff: 5 * time.Second,
			Subsystem:        1,
			Login: RetryPolicy{
				MaxAttempts: 3,
				Delay:       time.Second,
				Cooldown:    30 * time.Second,
			},
		},
		rnd: rand.New(rand.NewSource(1)),
		now: time.Now,
	}

	return is, ctx, fixture{
		scanner:  s,
		panel:    panel,
		zones:    zones,
		alarmSvc: alarmSvc,
		flags:    flags,
	}
}
