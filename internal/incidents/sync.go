package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/EmpoweredVote/odp-incidents/internal/carto"
	"github.com/EmpoweredVote/odp-incidents/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Source runs one query against the remote dataset.
type Source interface {
	Query(ctx context.Context, query string) (*carto.Result, error)
}

// Mode is the load strategy chosen for a run.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeFullLoad
	ModeIncremental
)

func (m Mode) String() string {
	switch m {
	case ModeFullLoad:
		return "full_load"
	case ModeIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// State is a step of a sync run.
type State int

const (
	StateDeterminingMode State = iota
	StateFullLoad
	StateIncremental
	StateLoading
	StateProjecting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDeterminingMode:
		return "DETERMINING_MODE"
	case StateFullLoad:
		return "FULL_LOAD"
	case StateIncremental:
		return "INCREMENTAL"
	case StateLoading:
		return "LOADING"
	case StateProjecting:
		return "PROJECTING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result summarises a run. It is returned on failure too, with State
// set to StateFailed and the counters reflecting the rolled-back work.
type Result struct {
	RunID         string
	Mode          Mode
	State         State
	HighWaterMark *time.Time // pre-run mark; nil on a full load or an empty table
	Fetched       int
	Inserted      int
	Replaced      int
	Projected     int64
	Duration      time.Duration
}

// Syncer brings the destination table up to date with the source dataset.
type Syncer struct {
	Source      Source
	Destination Destination
	Dataset     string

	// OnState, when set, observes every state transition.
	OnState func(State)
}

// Run performs one sync inside a single transaction. Nothing is committed
// unless every row loads and projection succeeds.
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString(), State: StateDeterminingMode}
	log := logging.With().Str("run_id", res.RunID).Str("dataset", s.Dataset).Logger()

	s.enter(res, StateDeterminingMode, log)
	err := s.Destination.InTx(ctx, func(st Store) error {
		return s.run(ctx, st, res, log)
	})
	res.Duration = time.Since(start)

	if err != nil {
		s.enter(res, StateFailed, log)
		log.Error().Err(err).
			Str("mode", res.Mode.String()).
			Dur("duration", res.Duration).
			Msg("sync failed, changes rolled back")
		return res, err
	}

	s.enter(res, StateDone, log)
	log.Info().
		Str("mode", res.Mode.String()).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("replaced", res.Replaced).
		Int64("projected", res.Projected).
		Dur("duration", res.Duration).
		Msg("sync complete")
	return res, nil
}

func (s *Syncer) run(ctx context.Context, st Store, res *Result, log zerolog.Logger) error {
	exists, err := st.TableExists(ctx)
	if err != nil {
		return err
	}

	if exists {
		mark, ok, err := st.MaxOccurred(ctx)
		if err != nil {
			return err
		}
		if ok {
			res.HighWaterMark = &mark
		}
		res.Mode = ModeIncremental
		s.enter(res, StateIncremental, log)
		if ok {
			log.Info().Str("since", mark.Format(TimestampLayout)).Msg("existing table found, fetching newer records")
		} else {
			log.Info().Msg("existing table is empty, fetching all records")
		}
	} else {
		res.Mode = ModeFullLoad
		s.enter(res, StateFullLoad, log)
		log.Info().Msg("no table found, fetching all records")
	}

	data, err := s.Source.Query(ctx, SourceQuery(s.Dataset, res.HighWaterMark))
	if err != nil {
		return err
	}
	res.Fetched = len(data.Rows)

	mapper, err := NewMapper(data.Header)
	if err != nil {
		return err
	}

	if res.Mode == ModeFullLoad {
		log.Info().Msg("creating table")
		if err := st.EnsureTable(ctx); err != nil {
			return err
		}
	}

	if len(data.Rows) == 0 {
		log.Info().Msg("no new records found")
		return nil
	}

	s.enter(res, StateLoading, log)
	log.Info().Int("rows", len(data.Rows)).Msg("inserting new records")
	caseIdx := data.Index("dc_key")
	for i, row := range data.Rows {
		in, err := mapper.Map(row)
		if err != nil {
			return rowError(i, row, caseIdx, err)
		}
		outcome, err := st.Apply(ctx, in)
		if err != nil {
			return rowError(i, row, caseIdx, err)
		}
		if outcome == Replaced {
			res.Replaced++
			log.Debug().Int64("case", in.CaseNumber).Msg("replaced revised record")
		} else {
			res.Inserted++
		}
	}

	s.enter(res, StateProjecting, log)
	n, err := st.Project(ctx, res.HighWaterMark)
	if err != nil {
		return err
	}
	res.Projected = n
	return nil
}

func (s *Syncer) enter(res *Result, state State, log zerolog.Logger) {
	res.State = state
	log.Debug().Str("state", state.String()).Msg("state")
	if s.OnState != nil {
		s.OnState(state)
	}
}

func rowError(i int, row []string, caseIdx int, err error) *StatementError {
	se := &StatementError{Row: i + 1, Statement: statementOf(err), Err: err}
	if caseIdx >= 0 && caseIdx < len(row) {
		se.CaseNumber = row[caseIdx]
	}
	return se
}
