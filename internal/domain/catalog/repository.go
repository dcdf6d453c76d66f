// Package catalog stores drugs, pediatric rules and interaction rules in
// Postgres and publishes catalog changes through the transactional outbox.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/engine"
	"github.com/validrx/validrx/internal/infrastructure/postgres"
)

// ErrNotFound is returned when an admin operation targets a missing record
var ErrNotFound = errors.New("not found")

// Repository provides catalog persistence
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// EnsureSchema creates the tables if they do not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// LoadSnapshot reads the whole catalog for a single validation call
func (r *Repository) LoadSnapshot(ctx context.Context) (engine.Snapshot, error) {
	drugs, err := r.ListDrugs(ctx)
	if err != nil {
		return engine.Snapshot{}, err
	}
	rules, err := r.ListInteractions(ctx)
	if err != nil {
		return engine.Snapshot{}, err
	}
	return engine.NewSnapshot(drugs, rules), nil
}

const drugColumns = `
	d.id, d.name, d.active_principle, d.therapeutic_class, d.allergy_families,
	d.concentration_mg_ml, d.min_age_months, d.adult_max_daily_mg,
	d.contraindications, d.permitted_routes, d.fatal_routes,
	p.mode, p.min_mg_kg, p.max_mg_kg, p.ceiling_mg
`

// ListDrugs returns every drug ordered by id
func (r *Repository) ListDrugs(ctx context.Context) ([]clinical.Drug, error) {
	query := `SELECT ` + drugColumns + `
		FROM drugs d
		LEFT JOIN pediatric_rules p ON p.drug_id = d.id
		ORDER BY d.id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load drugs: %w", err)
	}
	defer rows.Close()

	var drugs []clinical.Drug
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, fmt.Errorf("load drugs: %w", err)
		}
		drugs = append(drugs, d)
	}
	return drugs, rows.Err()
}

// GetDrug returns one drug or ErrNotFound
func (r *Repository) GetDrug(ctx context.Context, id string) (clinical.Drug, error) {
	query := `SELECT ` + drugColumns + `
		FROM drugs d
		LEFT JOIN pediatric_rules p ON p.drug_id = d.id
		WHERE d.id = $1
	`

	d, err := scanDrug(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return clinical.Drug{}, fmt.Errorf("drug %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return clinical.Drug{}, fmt.Errorf("get drug %s: %w", id, err)
	}
	return d, nil
}

func scanDrug(row pgx.Row) (clinical.Drug, error) {
	var (
		d                  clinical.Drug
		allergies, contra  []string
		routes             []string
		fatal              []byte
		mode               *string
		minKg, maxKg, ceil *float64
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.ActivePrinciple, &d.TherapeuticClass, &allergies,
		&d.ConcentrationMgPerMl, &d.MinAgeMonths, &d.AdultMaxDailyMg,
		&contra, &routes, &fatal,
		&mode, &minKg, &maxKg, &ceil,
	)
	if err != nil {
		return clinical.Drug{}, err
	}

	d.AllergyFamilies = clinical.NewTagSet(allergies...)
	d.Contraindications = clinical.NewTagSet(contra...)
	d.PermittedRoutes = clinical.NewTagSet(routes...)
	if len(fatal) > 0 {
		if err := json.Unmarshal(fatal, &d.FatalRoutes); err != nil {
			return clinical.Drug{}, fmt.Errorf("decode fatal routes of %s: %w", d.ID, err)
		}
	}

	if mode != nil {
		rule, err := clinical.NewPediatricRule(*mode, deref(minKg), deref(maxKg), deref(ceil))
		if err != nil {
			return clinical.Drug{}, fmt.Errorf("pediatric rule of %s: %w", d.ID, err)
		}
		d.Pediatric = rule
	}
	return d, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// UpsertDrug replaces the drug and its pediatric rule and records a
// DrugUpserted event in the same transaction
func (r *Repository) UpsertDrug(ctx context.Context, d clinical.Drug) (replaced bool, err error) {
	if err := d.Validate(); err != nil {
		return false, err
	}

	fatal, err := json.Marshal(d.FatalRoutes)
	if err != nil {
		return false, fmt.Errorf("encode fatal routes: %w", err)
	}
	if d.FatalRoutes == nil {
		fatal = []byte("[]")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM drugs WHERE id = $1`, d.ID)
	if err != nil {
		return false, fmt.Errorf("replace drug %s: %w", d.ID, err)
	}
	replaced = tag.RowsAffected() > 0

	insert := `
		INSERT INTO drugs
		(id, name, active_principle, therapeutic_class, allergy_families, concentration_mg_ml,
		 min_age_months, adult_max_daily_mg, contraindications, permitted_routes, fatal_routes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.Exec(ctx, insert,
		d.ID, d.Name, d.ActivePrinciple, d.TherapeuticClass, d.AllergyFamilies.Slice(),
		d.ConcentrationMgPerMl, d.MinAgeMonths, d.AdultMaxDailyMg,
		d.Contraindications.Slice(), d.PermittedRoutes.Slice(), fatal,
	)
	if err != nil {
		return false, fmt.Errorf("insert drug %s: %w", d.ID, err)
	}

	if p := d.Pediatric; p != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO pediatric_rules (drug_id, mode, min_mg_kg, max_mg_kg, ceiling_mg)
			VALUES ($1, $2, $3, $4, $5)
		`, d.ID, string(p.Mode), p.MinMgPerKg, p.MaxMgPerKg, p.CeilingMg)
		if err != nil {
			return false, fmt.Errorf("insert pediatric rule %s: %w", d.ID, err)
		}
	}

	event, err := NewEvent(aggregateDrug, d.ID, EventDrugUpserted, DrugUpsertedData{Drug: d, Replaced: replaced})
	if err != nil {
		return false, err
	}
	if err := writeEvent(ctx, tx, event); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("drug upserted", zap.String("drug_id", d.ID), zap.Bool("replaced", replaced))
	return replaced, nil
}

// DeleteDrug removes a drug and, by cascade, its pediatric rule
func (r *Repository) DeleteDrug(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM drugs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete drug %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("drug %s: %w", id, ErrNotFound)
	}

	event, err := NewEvent(aggregateDrug, id, EventDrugDeleted, DrugDeletedData{DrugID: id})
	if err != nil {
		return err
	}
	if err := writeEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.logger.Info("drug deleted", zap.String("drug_id", id))
	return nil
}

// ListInteractions returns every rule in insertion order
func (r *Repository) ListInteractions(ctx context.Context) ([]clinical.InteractionRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, substance_a, substance_b, severity, message
		FROM interactions
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	defer rows.Close()

	var rules []clinical.InteractionRule
	for rows.Next() {
		var (
			rule     clinical.InteractionRule
			severity string
		)
		if err := rows.Scan(&rule.ID, &rule.SubstanceA, &rule.SubstanceB, &severity, &rule.Message); err != nil {
			return nil, fmt.Errorf("load interactions: %w", err)
		}
		if rule.Severity, err = clinical.ParseInteractionSeverity(severity); err != nil {
			return nil, fmt.Errorf("interaction %d: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// AddInteraction stores a rule and returns it with its assigned id
func (r *Repository) AddInteraction(ctx context.Context, rule clinical.InteractionRule) (clinical.InteractionRule, error) {
	if err := rule.Validate(); err != nil {
		return clinical.InteractionRule{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return clinical.InteractionRule{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO interactions (substance_a, substance_b, severity, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, rule.SubstanceA, rule.SubstanceB, string(rule.Severity), rule.Message).Scan(&rule.ID)
	if err != nil {
		return clinical.InteractionRule{}, fmt.Errorf("insert interaction: %w", err)
	}

	event, err := NewEvent(aggregateInteraction, fmt.Sprint(rule.ID), EventInteractionAdded, InteractionAddedData{Rule: rule})
	if err != nil {
		return clinical.InteractionRule{}, err
	}
	if err := writeEvent(ctx, tx, event); err != nil {
		return clinical.InteractionRule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return clinical.InteractionRule{}, fmt.Errorf("commit: %w", err)
	}
	r.logger.Info("interaction added",
		zap.Int64("interaction_id", rule.ID),
		zap.String("substance_a", rule.SubstanceA),
		zap.String("substance_b", rule.SubstanceB))
	return rule, nil
}

// DeleteInteraction removes a rule by id
func (r *Repository) DeleteInteraction(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM interactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete interaction %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("interaction %d: %w", id, ErrNotFound)
	}

	event, err := NewEvent(aggregateInteraction, fmt.Sprint(id), EventInteractionDeleted, InteractionDeletedData{InteractionID: id})
	if err != nil {
		return err
	}
	if err := writeEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.logger.Info("interaction deleted", zap.Int64("interaction_id", id))
	return nil
}

// SeedIfEmpty inserts the starter catalog when no drug exists yet
func (r *Repository) SeedIfEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM drugs`).Scan(&count); err != nil {
		return false, fmt.Errorf("count drugs: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	for _, d := range SeedDrugs() {
		if _, err := r.UpsertDrug(ctx, d); err != nil {
			return false, fmt.Errorf("seed %s: %w", d.ID, err)
		}
	}
	for _, rule := range SeedInteractions() {
		if _, err := r.AddInteraction(ctx, rule); err != nil {
			return false, fmt.Errorf("seed interaction: %w", err)
		}
	}
	r.logger.Info("catalog seeded",
		zap.Int("drugs", len(SeedDrugs())),
		zap.Int("interactions", len(SeedInteractions())))
	return true, nil
}

func writeEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	entry, err := event.OutboxEntry()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.EventType, err)
	}
	return postgres.WriteEntry(ctx, tx, entry)
}
