package service

import (
	"context"
	"errors"
	"strings"
	"time"

	notificationdomain "github.com/lunahealth/lumen/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) notificationdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("notification.service"),
	}
}

func defaultPreference(userID string) *notificationdomain.Preference {
	return &notificationdomain.Preference{
		UserID:         userID,
		ChannelEnabled: true,
		Cadence:        notificationdomain.CadenceDaily,
		PreferredTime:  "09:00",
		Weekday:        int(time.Monday),
		MonthDay:       1,
	}
}

func (s *Service) GetPreference(ctx context.Context, userID string) (*notificationdomain.Preference, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, notificationdomain.ErrInvalidUser
	}

	var pref notificationdomain.Preference
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return defaultPreference(userID), nil
		}
		return nil, err
	}
	return &pref, nil
}

func (s *Service) UpdatePreference(ctx context.Context, req notificationdomain.UpdatePreferenceRequest) (*notificationdomain.Preference, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, notificationdomain.ErrInvalidUser
	}

	current, err := s.GetPreference(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.ChannelEnabled != nil {
		current.ChannelEnabled = *req.ChannelEnabled
	}
	if cadence := strings.TrimSpace(strings.ToLower(req.Cadence)); cadence != "" {
		switch cadence {
		case notificationdomain.CadenceDaily, notificationdomain.CadenceWeekly, notificationdomain.CadenceMonthly:
			current.Cadence = cadence
		default:
			return nil, notificationdomain.ErrInvalidCadence
		}
	}
	if preferred := strings.TrimSpace(req.PreferredTime); preferred != "" {
		if _, err := time.Parse("15:04", preferred); err != nil {
			return nil, notificationdomain.ErrInvalidTime
		}
		current.PreferredTime = preferred
	}
	if req.Weekday != nil {
		if *req.Weekday < 0 || *req.Weekday > 6 {
			return nil, notificationdomain.ErrInvalidDay
		}
		current.Weekday = *req.Weekday
	}
	if req.MonthDay != nil {
		if *req.MonthDay < 1 || *req.MonthDay > 28 {
			return nil, notificationdomain.ErrInvalidDay
		}
		current.MonthDay = *req.MonthDay
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		current.Email = email
	}

	now := time.Now().UTC()
	current.UpdatedAt = now
	if current.CreatedAt.IsZero() {
		current.CreatedAt = now
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"channel_enabled", "cadence", "preferred_time",
			"weekday", "month_day", "email", "updated_at",
		}),
	}).Create(current).Error
	if err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Service) LatestHistory(ctx context.Context, userID string) (*notificationdomain.History, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, notificationdomain.ErrInvalidUser
	}

	var row notificationdomain.History
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sent_at desc, id desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (s *Service) ListHistory(ctx context.Context, userID string, limit int) ([]notificationdomain.History, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, notificationdomain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = 20
	}

	var rows []notificationdomain.History
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sent_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) AppendHistory(ctx context.Context, row *notificationdomain.History) error {
	if row == nil || strings.TrimSpace(row.UserID) == "" {
		return notificationdomain.ErrInvalidUser
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *Service) ListEnabledUserIDs(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}

	stmt := s.db.WithContext(ctx).
		Model(&notificationdomain.Preference{}).
		Where("channel_enabled = ?", true).
		Order("user_id asc").
		Limit(limit)
	if afterUserID = strings.TrimSpace(afterUserID); afterUserID != "" {
		stmt = stmt.Where("user_id > ?", afterUserID)
	}

	var userIDs []string
	if err := stmt.Pluck("user_id", &userIDs).Error; err != nil {
		return nil, err
	}
	return userIDs, nil
}
