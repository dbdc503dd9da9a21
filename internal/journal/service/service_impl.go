package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	journaldomain "github.com/lunahealth/lumen/internal/journal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p ServiceParam) journaldomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("journal.service"),
		genID: p.GenID,
	}
}

// RecordCycle logs or amends a period day. The (user_id, entry_date) pair is
// the natural key, so re-submitting a day rewrites the same row.
func (s *Service) RecordCycle(ctx context.Context, req journaldomain.RecordCycleRequest) (*journaldomain.CycleEntry, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, journaldomain.ErrInvalidUser
	}
	date, err := parseEntryDate(req.Date)
	if err != nil {
		return nil, err
	}

	isPeriod := true
	if req.IsPeriod != nil {
		isPeriod = *req.IsPeriod
	}

	now := time.Now().UTC()
	entry := &journaldomain.CycleEntry{
		ID:        s.genID.Generate(),
		UserID:    userID,
		EntryDate: date,
		IsPeriod:  isPeriod,
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "entry_date"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"is_period", "notes", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return nil, err
	}

	return s.findCycle(ctx, userID, date)
}

// RecordDaily logs or amends one day of wellbeing scores.
func (s *Service) RecordDaily(ctx context.Context, req journaldomain.RecordDailyRequest) (*journaldomain.DailyEntry, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, journaldomain.ErrInvalidUser
	}
	date, err := parseEntryDate(req.Date)
	if err != nil {
		return nil, err
	}
	if req.HotFlashes < 0 {
		return nil, journaldomain.ErrInvalidScore
	}
	if !validScore(req.SleepQuality) || !validScore(req.Mood) {
		return nil, journaldomain.ErrInvalidScore
	}

	now := time.Now().UTC()
	entry := &journaldomain.DailyEntry{
		ID:           s.genID.Generate(),
		UserID:       userID,
		EntryDate:    date,
		HotFlashes:   req.HotFlashes,
		SleepQuality: req.SleepQuality,
		Mood:         req.Mood,
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "entry_date"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"hot_flashes", "sleep_quality", "mood", "notes", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return nil, err
	}

	return s.findDaily(ctx, userID, date)
}

// ListRecentCycles returns the latest period entries in ascending date order.
func (s *Service) ListRecentCycles(ctx context.Context, userID string, limit int) ([]journaldomain.CycleEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, journaldomain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = 12
	}

	var entries []journaldomain.CycleEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_period = ?", userID, true).
		Order("entry_date desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntryDate.Before(entries[j].EntryDate)
	})
	return entries, nil
}

// ListRecentDaily returns the latest daily entries in ascending date order.
func (s *Service) ListRecentDaily(ctx context.Context, userID string, limit int) ([]journaldomain.DailyEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, journaldomain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = 14
	}

	var entries []journaldomain.DailyEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("entry_date desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntryDate.Before(entries[j].EntryDate)
	})
	return entries, nil
}

func (s *Service) findCycle(ctx context.Context, userID string, date time.Time) (*journaldomain.CycleEntry, error) {
	var entry journaldomain.CycleEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND entry_date = ?", userID, date).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) findDaily(ctx context.Context, userID string, date time.Time) (*journaldomain.DailyEntry, error) {
	var entry journaldomain.DailyEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND entry_date = ?", userID, date).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func parseEntryDate(raw string) (time.Time, error) {
	parsed, err := time.Parse(journaldomain.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, journaldomain.ErrInvalidDate
	}
	return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), nil
}

// Scores are 1..5, zero means not reported.
func validScore(score int) bool {
	return score >= 0 && score <= 5
}
