package gorm

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	ct "github.com/dennislee928/carbontrade"
)

// ErrorLogStore implements ct.ErrorLogStore using GORM
type ErrorLogStore struct {
	db *gorm.DB
}

func NewErrorLogStore(db *gorm.DB) *ErrorLogStore {
	return &ErrorLogStore{db: db}
}

func (s *ErrorLogStore) CreateErrorLog(entry *ct.ErrorLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return s.db.Create(ErrorLogToModel(entry)).Error
}

func (s *ErrorLogStore) GetErrorLog(id string) (*ct.ErrorLog, error) {
	var model ErrorLogModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrNotFound
		}
		return nil, err
	}
	logs := []*ct.ErrorLog{model.ToErrorLog()}
	if err := s.attachUsers(logs); err != nil {
		return nil, err
	}
	return logs[0], nil
}

func (s *ErrorLogStore) ListErrorLogs(q ct.ErrorLogQuery) ([]*ct.ErrorLog, int64, error) {
	p := ct.NewPagination(q.Page, q.Limit)
	query := s.db.Model(&ErrorLogModel{})
	if q.ErrorType != "" {
		query = query.Where("error_type = ?", q.ErrorType)
	}
	if q.StatusCode != 0 {
		query = query.Where("status_code = ?", q.StatusCode)
	}
	if q.Endpoint != "" {
		query = query.Where("endpoint LIKE ?", "%"+q.Endpoint+"%")
	}
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if q.Resolved != nil {
		if *q.Resolved {
			query = query.Where("resolved_at IS NOT NULL")
		} else {
			query = query.Where("resolved_at IS NULL")
		}
	}
	if q.StartDate != nil {
		query = query.Where("created_at >= ?", *q.StartDate)
	}
	if q.EndDate != nil {
		query = query.Where("created_at <= ?", *q.EndDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []ErrorLogModel
	if err := query.Order("created_at DESC").Offset(p.Offset()).Limit(p.Limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	logs := make([]*ct.ErrorLog, len(models))
	for i := range models {
		logs[i] = models[i].ToErrorLog()
	}
	if err := s.attachUsers(logs); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// attachUsers fills the user and resolved_by_user summaries
func (s *ErrorLogStore) attachUsers(logs []*ct.ErrorLog) error {
	ids := []string{}
	for _, l := range logs {
		if l.UserID != nil {
			ids = append(ids, *l.UserID)
		}
		if l.ResolvedBy != nil {
			ids = append(ids, *l.ResolvedBy)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var users []UserModel
	if err := s.db.Select("id", "email", "name").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return err
	}
	byID := map[string]*ct.UserRef{}
	for _, u := range users {
		byID[u.ID] = &ct.UserRef{ID: u.ID, Email: u.Email, Name: u.Name}
	}
	for _, l := range logs {
		if l.UserID != nil {
			l.User = byID[*l.UserID]
		}
		if l.ResolvedBy != nil {
			l.ResolvedByUser = byID[*l.ResolvedBy]
		}
	}
	return nil
}

func (s *ErrorLogStore) ResolveErrorLog(id, resolvedBy, notes string) (*ct.ErrorLog, error) {
	updates := map[string]any{"resolved_at": time.Now(), "resolved_by": resolvedBy}
	if notes != "" {
		updates["resolution_notes"] = notes
	}
	res := s.db.Model(&ErrorLogModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ct.ErrNotFound
	}
	return s.GetErrorLog(id)
}

// ErrorLogStats aggregates the last days (default 7) of errors. Grouping
// runs in Go so the same code serves PostgreSQL and SQLite.
func (s *ErrorLogStore) ErrorLogStats(days int) (*ct.ErrorLogStats, error) {
	if days <= 0 {
		days = 7
	}
	now := time.Now()
	since := now.AddDate(0, 0, -days)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var models []ErrorLogModel
	if err := s.db.Select("error_type", "endpoint", "duration_ms", "resolved_at", "created_at").
		Where("created_at >= ?", since).Find(&models).Error; err != nil {
		return nil, err
	}

	stats := &ct.ErrorLogStats{
		ErrorsByType:     []ct.CountByType{},
		ErrorsByEndpoint: []ct.CountByEndpoint{},
		ErrorsByHour:     []ct.CountByHour{},
	}
	byType := map[string]int64{}
	byEndpoint := map[string]int64{}
	byHour := map[int]int64{}
	var durationSum, durationCount int64

	for _, m := range models {
		stats.TotalErrors++
		if !m.CreatedAt.Before(today) {
			stats.TodayErrors++
		}
		if m.ResolvedAt == nil {
			stats.UnresolvedErrors++
		}
		if m.DurationMS != nil {
			durationSum += *m.DurationMS
			durationCount++
		}
		byType[m.ErrorType]++
		byEndpoint[m.Endpoint]++
		byHour[m.CreatedAt.In(now.Location()).Hour()]++
	}
	if durationCount > 0 {
		stats.AverageRespMS = float64(durationSum) / float64(durationCount)
	}

	for t, c := range byType {
		stats.ErrorsByType = append(stats.ErrorsByType, ct.CountByType{ErrorType: t, Count: c})
	}
	sort.Slice(stats.ErrorsByType, func(i, j int) bool {
		a, b := stats.ErrorsByType[i], stats.ErrorsByType[j]
		return a.Count > b.Count || (a.Count == b.Count && a.ErrorType < b.ErrorType)
	})

	for e, c := range byEndpoint {
		stats.ErrorsByEndpoint = append(stats.ErrorsByEndpoint, ct.CountByEndpoint{Endpoint: e, Count: c})
	}
	sort.Slice(stats.ErrorsByEndpoint, func(i, j int) bool {
		a, b := stats.ErrorsByEndpoint[i], stats.ErrorsByEndpoint[j]
		return a.Count > b.Count || (a.Count == b.Count && a.Endpoint < b.Endpoint)
	})
	if len(stats.ErrorsByEndpoint) > 10 {
		stats.ErrorsByEndpoint = stats.ErrorsByEndpoint[:10]
	}

	for h := 0; h < 24; h++ {
		if c := byHour[h]; c > 0 {
			stats.ErrorsByHour = append(stats.ErrorsByHour, ct.CountByHour{Hour: h, Count: c})
		}
	}
	return stats, nil
}
