package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	"github.com/nats-io/nats.go"
	"github.com/quantbench/marketfeed-service/internal/config"
	"github.com/quantbench/marketfeed-service/internal/constant"
	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/quantbench/marketfeed-service/internal/repository"
	"github.com/quantbench/marketfeed-service/internal/util"
	"github.com/sirupsen/logrus"
)

const defaultEventMaxAge = time.Minute

// Service is the historical bar cache: it persists sealed and backfilled bars,
// answers range queries, detects coverage gaps, and keeps per
// (instrument, timeframe) sync status rows up to date.
type Service struct {
	barRepo     *repository.BarRepository
	syncRepo    *repository.SyncStatusRepository
	js          nats.JetStreamContext
	eventMaxAge time.Duration
}

func NewService(js nats.JetStreamContext, barRepo *repository.BarRepository, syncRepo *repository.SyncStatusRepository, eventMaxAge time.Duration) *Service {
	if eventMaxAge <= 0 {
		eventMaxAge = defaultEventMaxAge
	}

	return &Service{
		barRepo:     barRepo,
		syncRepo:    syncRepo,
		js:          js,
		eventMaxAge: eventMaxAge,
	}
}

// UpsertBars validates and writes bars through to the cache. Malformed bars are
// skipped with a warning so one bad data point cannot block reconciliation of
// the rest; a storage failure is returned to the caller untouched.
func (s *Service) UpsertBars(ctx context.Context, instrumentID string, timeframe entity.Timeframe, bars []entity.Bar) error {
	accepted := make([]entity.Bar, 0, len(bars))
	for _, bar := range bars {
		if bar.InstrumentID != instrumentID || bar.Timeframe != timeframe {
			logrus.Warnf("skipping bar keyed for %s/%s in upsert of %s/%s", bar.InstrumentID, bar.Timeframe, instrumentID, timeframe)
			continue
		}
		if err := bar.Validate(); err != nil {
			logrus.Warnf("skipping malformed bar: %v", err)
			continue
		}
		accepted = append(accepted, bar)
	}

	if len(accepted) == 0 {
		return nil
	}

	if err := s.barRepo.Upsert(ctx, accepted); err != nil {
		return fmt.Errorf("upsert bars for %s/%s: %w", instrumentID, timeframe, err)
	}

	lastSynced := accepted[0].BucketStart
	for _, bar := range accepted[1:] {
		if bar.BucketStart.After(lastSynced) {
			lastSynced = bar.BucketStart
		}
	}

	now := time.Now().UTC()
	err := s.syncRepo.Upsert(ctx, &entity.SyncStatus{
		InstrumentID: instrumentID,
		Timeframe:    timeframe,
		State:        entity.SyncStateSynced,
		LastSyncedAt: null.TimeFrom(lastSynced),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		logrus.Warnf("sync status update failed for %s/%s: %v", instrumentID, timeframe, err)
	}

	return nil
}

// MarkSyncFailed records a failed backfill attempt. The status is advisory
// metadata for the fetch collaborator; cached bars stay queryable.
func (s *Service) MarkSyncFailed(ctx context.Context, instrumentID string, timeframe entity.Timeframe, cause error) error {
	now := time.Now().UTC()
	return s.syncRepo.Upsert(ctx, &entity.SyncStatus{
		InstrumentID: instrumentID,
		Timeframe:    timeframe,
		State:        entity.SyncStateFailed,
		ErrorDetail:  null.StringFrom(cause.Error()),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (s *Service) Query(ctx context.Context, instrumentID string, timeframe entity.Timeframe, start, end time.Time) ([]entity.Bar, error) {
	return s.barRepo.QueryRange(ctx, instrumentID, timeframe, start.UTC(), end.UTC())
}

// FindGaps reports the timeframe-aligned sub-ranges of [start, end) with no
// cached coverage, so a backfill fetch requests exactly the missing buckets.
func (s *Service) FindGaps(ctx context.Context, instrumentID string, timeframe entity.Timeframe, start, end time.Time) ([]entity.Gap, error) {
	interval, ok := timeframe.Duration()
	if !ok {
		return nil, fmt.Errorf("unknown timeframe: %s", timeframe)
	}

	alignedStart := entity.BucketStartFor(start, interval)
	alignedEnd := entity.BucketStartFor(end, interval)
	if alignedEnd.Before(end.UTC()) {
		alignedEnd = alignedEnd.Add(interval)
	}

	bars, err := s.Query(ctx, instrumentID, timeframe, alignedStart, alignedEnd)
	if err != nil {
		return nil, err
	}

	return DetectGaps(bars, alignedStart, alignedEnd, interval), nil
}

// DetectGaps walks the time-ordered cached sequence and emits the leading,
// interior, and trailing uncovered ranges of the window [start, end).
func DetectGaps(bars []entity.Bar, start, end time.Time, interval time.Duration) []entity.Gap {
	if !end.After(start) {
		return nil
	}

	if len(bars) == 0 {
		return []entity.Gap{{Start: start, End: end}}
	}

	var gaps []entity.Gap

	if bars[0].BucketStart.After(start) {
		gaps = append(gaps, entity.Gap{Start: start, End: bars[0].BucketStart})
	}

	for i := 1; i < len(bars); i++ {
		prevEnd := bars[i-1].BucketStart.Add(interval)
		if bars[i].BucketStart.After(prevEnd) {
			gaps = append(gaps, entity.Gap{Start: prevEnd, End: bars[i].BucketStart})
		}
	}

	lastEnd := bars[len(bars)-1].BucketStart.Add(interval)
	if lastEnd.Before(end) {
		gaps = append(gaps, entity.Gap{Start: lastEnd, End: end})
	}

	return gaps
}

func (s *Service) SyncStatus(ctx context.Context, instrumentID string, timeframe entity.Timeframe) (*entity.SyncStatus, error) {
	return s.syncRepo.Get(ctx, instrumentID, timeframe)
}

func (s *Service) SyncStatuses(ctx context.Context) ([]entity.SyncStatus, error) {
	return s.syncRepo.GetAll(ctx)
}

// EnsureBarStream creates or updates the JetStream stream sealed bars are
// published on. Both the publishing gateway and the consuming worker call it.
func EnsureBarStream(ctx context.Context, js nats.JetStreamContext) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.BarStreamName,
		Subjects:  []string{constant.BarStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    5 * time.Minute,
		Replicas:  1,
	}

	stream, err := js.StreamInfo(constant.BarStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.BarStreamName)
		_, err = js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.BarStreamName)
	_, err = js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	logrus.Infof("stream %s is ready", constant.BarStreamName)

	return nil
}

func (s *Service) JetstreamEventInit(ctx context.Context) error {
	return EnsureBarStream(ctx, s.js)
}

// JetstreamEventSubscribe consumes sealed-bar events from the gateway and
// applies them to the cache through the idempotent upsert.
func (s *Service) JetstreamEventSubscribe(ctx context.Context) error {
	if err := s.JetstreamEventInit(ctx); err != nil {
		logrus.Error(err)
		return err
	}

	_, err := s.js.QueueSubscribe(
		constant.BarStreamSubjectAll,
		constant.BarInsertQueueGroup,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(config.Env.NatsJetstream.TimeoutHandler["insert_bar"], msg, s.handleBarEvent)
			if err != nil {
				logrus.Errorf("error processing message: %v", err)
				return
			}

			err = msg.Ack()
			if err != nil {
				logrus.Errorf("failed to acknowledge message: %v", err)
				return
			}
		},
		nats.ManualAck(),
		nats.DeliverNew(),
	)
	util.ContinueOrFatal(err)

	return nil
}

func (s *Service) handleBarEvent(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithFields(logrus.Fields{
		"req": string(msg.Data),
	})

	var req *entity.BarEvent
	err = json.Unmarshal(msg.Data, &req)
	if err != nil {
		logger.Error(err)
		return err
	}

	bar := req.Data
	if bar.UpdatedAt.UTC().Add(s.eventMaxAge).Before(time.Now().UTC()) {
		logger.Info("skipping bar event that is too old")
		return nil
	}

	defer func() {
		if err != nil {
			req.RetryCount++
			if req.RetryCount >= config.Env.NatsJetstream.MaxRetries {
				if markErr := s.MarkSyncFailed(ctx, bar.InstrumentID, bar.Timeframe, err); markErr != nil {
					logger.Error(markErr)
				}
				return
			}

			requeueErr := util.PublishEvent(s.js, constant.GetBarStreamSubject(bar.InstrumentID, string(bar.Timeframe)), req)
			if requeueErr != nil {
				logger.Error(requeueErr)
				return
			}
		}
	}()

	err = s.UpsertBars(ctx, bar.InstrumentID, bar.Timeframe, []entity.Bar{bar})
	if err != nil {
		logger.Error(err)
		return err
	}

	return nil
}
