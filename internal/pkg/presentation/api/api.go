package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/caretech/alarm-sync/internal/pkg/application/alarms"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/logging"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("alarm-sync/api")

type Config struct {
	HeartbeatStale time.Duration
	HistoryLimit   int
}

func RegisterHandlers(ctx context.Context, router *chi.Mux, alarmSvc alarms.AlarmService, alarmRepo database.AlarmRepository, zones database.ZoneRepository, registry database.RegistryRepository, flags database.ControlFlags, cfg Config) *chi.Mux {

	log := logging.GetFromContext(ctx)

	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 100
	}

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.Route("/api/v0", func(r chi.Router) {
		r.Route("/alarms", func(r chi.Router) {
			r.Get("/", getAlarmsHandler(log, alarmSvc, alarmRepo, flags, cfg.HistoryLimit))
			r.Post("/{alarmID}/ack", acknowledgeAlarmHandler(log, alarmSvc))
		})

		r.Route("/zones", func(r chi.Router) {
			r.Get("/", getZonesHandler(log, zones))
			r.Patch("/{zoneID}", patchZoneHandler(log, zones))
		})

		r.Route("/residents", func(r chi.Router) {
			r.Get("/", getResidentsHandler(log, registry))
			r.Post("/", createResidentHandler(log, registry))
		})

		r.Route("/staff", func(r chi.Router) {
			r.Get("/", getStaffHandler(log, registry))
			r.Post("/", createStaffHandler(log, registry))
			r.Patch("/{staffID}", patchStaffHandler(log, registry))
		})

		r.Get("/status", getStatusHandler(log, flags, cfg.HeartbeatStale))
	})

	return router
}

func getAlarmsHandler(log zerolog.Logger, svc alarms.AlarmService, repo database.AlarmRepository, flags database.ControlFlags, historyLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-alarms")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		// Every poll for active alarms doubles as a liveness signal
		// from the display that issued it.
		if hbErr := flags.Heartbeat(ctx, database.FlagKioskHeartbeat, time.Now()); hbErr != nil {
			requestLogger.Error().Err(hbErr).Msg("failed to write kiosk heartbeat")
		}

		var records []database.AlarmRecord

		if r.URL.Query().Get("acknowledged") == "false" {
			records, err = svc.ActiveAlarms(ctx)
		} else {
			records, err = repo.GetRecent(ctx, historyLimit)
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch alarm records")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		b, err := json.Marshal(records)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to marshal alarm records")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func acknowledgeAlarmHandler(log zerolog.Logger, svc alarms.AlarmService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "acknowledge-alarm")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id := chi.URLParam(r, "alarmID")
		alarmID, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			requestLogger.Error().Err(err).Str("alarm_id", id).Msg("alarm id is invalid")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ack := struct {
			PIN string `json:"pin"`
		}{}
		err = json.Unmarshal(body, &ack)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		staff, err := svc.Acknowledge(ctx, uint(alarmID), ack.PIN, time.Now())
		if err != nil {
			if errors.Is(err, alarms.ErrInvalidPIN) {
				requestLogger.Warn().Str("alarm_id", id).Msg("acknowledge rejected, invalid pin")
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if errors.Is(err, database.ErrAlarmNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if errors.Is(err, database.ErrAlreadyAcknowledged) {
				w.WriteHeader(http.StatusConflict)
				return
			}

			requestLogger.Error().Err(err).Str("alarm_id", id).Msg("unable to acknowledge alarm")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		requestLogger.Info().Str("alarm_id", id).Str("staff", staff.Name).Msg("alarm acknowledged")
		w.WriteHeader(http.StatusNoContent)
	}
}

func getZonesHandler(log zerolog.Logger, zones database.ZoneRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-zones")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		all, err := zones.GetAll(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch zones")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		b, err := json.Marshal(all)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to marshal zones")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func patchZoneHandler(log zerolog.Logger, zones database.ZoneRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "patch-zone")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id := chi.URLParam(r, "zoneID")
		zoneID, err := strconv.Atoi(id)
		if err != nil {
			requestLogger.Error().Err(err).Str("zone_id", id).Msg("zone id is invalid")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		patch := struct {
			Name       *string `json:"name"`
			ResidentID *uint   `json:"residentID"`
		}{}
		err = json.Unmarshal(body, &patch)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		err = zones.Update(ctx, zoneID, patch.Name, patch.ResidentID)
		if err != nil {
			if errors.Is(err, database.ErrZoneNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			requestLogger.Error().Err(err).Str("zone_id", id).Msg("unable to update zone")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getResidentsHandler(log zerolog.Logger, registry database.RegistryRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-residents")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		residents, err := registry.GetResidents(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch residents")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		b, err := json.Marshal(residents)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to marshal residents")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func createResidentHandler(log zerolog.Logger, registry database.RegistryRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-resident")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resident := database.Resident{}
		err = json.Unmarshal(body, &resident)
		if err != nil || resident.Name == "" {
			requestLogger.Error().Msg("resident payload is invalid")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resident.ID = 0
		id, err := registry.AddResident(ctx, resident)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to create resident")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(struct {
			ID uint `json:"id"`
		}{ID: id})
	}
}

func getStaffHandler(log zerolog.Logger, registry database.RegistryRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-staff")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		staff, err := registry.GetStaff(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch staff")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		b, err := json.Marshal(staff)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to marshal staff")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func createStaffHandler(log zerolog.Logger, registry database.RegistryRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-staff")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		payload := struct {
			Name   string `json:"name"`
			Code   string `json:"code"`
			Active *bool  `json:"active"`
		}{}
		err = json.Unmarshal(body, &payload)
		if err != nil || payload.Name == "" || payload.Code == "" {
			requestLogger.Error().Msg("staff payload is invalid")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		active := true
		if payload.Active != nil {
			active = *payload.Active
		}

		id, err := registry.AddStaff(ctx, database.Staff{
			Name:   payload.Name,
			Code:   payload.Code,
			Active: active,
		})
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to create staff member")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(struct {
			ID uint `json:"id"`
		}{ID: id})
	}
}

func patchStaffHandler(log zerolog.Logger, registry database.RegistryRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "patch-staff")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id := chi.URLParam(r, "staffID")
		staffID, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			requestLogger.Error().Err(err).Str("staff_id", id).Msg("staff id is invalid")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		patch := struct {
			Active *bool `json:"active"`
		}{}
		err = json.Unmarshal(body, &patch)
		if err != nil || patch.Active == nil {
			requestLogger.Error().Msg("staff patch is invalid")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		err = registry.SetStaffActive(ctx, uint(staffID), *patch.Active)
		if err != nil {
			requestLogger.Error().Err(err).Str("staff_id", id).Msg("unable to update staff member")
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getStatusHandler(log zerolog.Logger, flags database.ControlFlags, stale time.Duration) http.HandlerFunc {
	type processStatus struct {
		LastSeen int64 `json:"lastSeen"`
		Online   bool  `json:"online"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-status")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		now := time.Now().Unix()
		staleAfter := int64(stale.Seconds())

		status := map[string]processStatus{}
		for name, key := range map[string]string{
			"scanner": database.FlagScannerHeartbeat,
			"kiosk":   database.FlagKioskHeartbeat,
		} {
			lastSeen, err := flags.Get(ctx, key)
			if err != nil {
				requestLogger.Error().Err(err).Str("flag", key).Msg("unable to read heartbeat")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			status[name] = processStatus{
				LastSeen: lastSeen,
				Online:   lastSeen > 0 && now-lastSeen <= staleAfter,
			}
		}

		b, err := json.Marshal(status)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to marshal status")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}
