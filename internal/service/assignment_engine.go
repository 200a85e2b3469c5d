package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/physioconnect/physioconnect-api/internal/models"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
)

type physiotherapistDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListPhysiotherapistsByCity(ctx context.Context, city string) ([]models.User, error)
}

type caseloadReader interface {
	CountActiveByPhysiotherapist(ctx context.Context, physioID string) (int, error)
}

// AssignmentDecision is the outcome of an assignment attempt. An empty
// PhysiotherapistID means nobody matched and the case stays open; Warning
// carries the reason when a stated preference caused the miss.
type AssignmentDecision struct {
	PhysiotherapistID string
	Warning           string
}

// AssignmentEngine picks a physiotherapist for a case. It only reads: the
// caller is responsible for applying the decision to the case record.
type AssignmentEngine struct {
	directory physiotherapistDirectory
	caseloads caseloadReader
	logger    *zap.Logger
}

// NewAssignmentEngine creates an engine instance.
func NewAssignmentEngine(directory physiotherapistDirectory, caseloads caseloadReader, logger *zap.Logger) *AssignmentEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentEngine{directory: directory, caseloads: caseloads, logger: logger}
}

// Decide resolves the physiotherapist for the case. When preferredID is set
// the explicit choice is validated and used; otherwise the engine matches
// automatically within the case city, honouring the patient's gender
// preference and balancing by active caseload.
func (e *AssignmentEngine) Decide(ctx context.Context, c *models.Case, preferredID string) (*AssignmentDecision, error) {
	if preferredID != "" {
		return e.decidePreferred(ctx, c, preferredID)
	}
	return e.decideAuto(ctx, c)
}

func (e *AssignmentEngine) decidePreferred(ctx context.Context, c *models.Case, preferredID string) (*AssignmentDecision, error) {
	physio, err := e.directory.FindByID(ctx, preferredID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrInvalidPhysiotherapist, "selected physiotherapist does not exist")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load physiotherapist")
	}
	if physio.Role != models.RolePhysiotherapist || !physio.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidPhysiotherapist, "selected user is not an active physiotherapist")
	}
	if !physio.ServesCity(c.City) {
		return nil, appErrors.Clone(appErrors.ErrCityMismatch,
			fmt.Sprintf("physiotherapist does not serve %s", c.City))
	}
	return &AssignmentDecision{PhysiotherapistID: physio.ID}, nil
}

func (e *AssignmentEngine) decideAuto(ctx context.Context, c *models.Case) (*AssignmentDecision, error) {
	candidates, err := e.directory.ListPhysiotherapistsByCity(ctx, c.City)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list physiotherapists")
	}
	if len(candidates) == 0 {
		e.logger.Info("no physiotherapist available in city", zap.String("case_id", c.ID), zap.String("city", c.City))
		return &AssignmentDecision{}, nil
	}

	if gender := genderPreference(c); gender != "" {
		filtered := candidates[:0]
		for _, cand := range candidates {
			if strings.EqualFold(cand.Gender, gender) {
				filtered = append(filtered, cand)
			}
		}
		if len(filtered) == 0 {
			// A stated preference never falls back to the full pool.
			return &AssignmentDecision{
				Warning: fmt.Sprintf("no %s physiotherapist available in %s", gender, c.City),
			}, nil
		}
		candidates = filtered
	}

	// Candidates arrive ordered by id, so keeping only strict improvements
	// makes the workload tie-break deterministic.
	best := candidates[0]
	bestLoad, err := e.caseloads.CountActiveByPhysiotherapist(ctx, best.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read caseload")
	}
	for _, cand := range candidates[1:] {
		load, err := e.caseloads.CountActiveByPhysiotherapist(ctx, cand.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read caseload")
		}
		if load < bestLoad {
			best = cand
			bestLoad = load
		}
	}

	return &AssignmentDecision{PhysiotherapistID: best.ID}, nil
}

func genderPreference(c *models.Case) string {
	if c.PreferredGender == nil {
		return ""
	}
	pref := strings.TrimSpace(*c.PreferredGender)
	if pref == "" || strings.EqualFold(pref, models.GenderNoPreference) {
		return ""
	}
	return pref
}
