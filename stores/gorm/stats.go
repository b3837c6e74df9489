package gorm

import (
	"sort"
	"time"

	"gorm.io/gorm"

	ct "github.com/dennislee928/carbontrade"
)

// StatsStore implements ct.StatsStore using GORM. Daily and per-status
// grouping happens in Go; date functions differ between PostgreSQL and SQLite.
type StatsStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStatsStore(db *gorm.DB) *StatsStore {
	return &StatsStore{db: db, now: time.Now}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func (s *StatsStore) OverviewStats() (*ct.OverviewStats, error) {
	today := startOfDay(s.now())
	out := &ct.OverviewStats{}

	counts := []struct {
		dst   *int64
		model any
		where []any
	}{
		{&out.TotalUsers, &UserModel{}, nil},
		{&out.ActiveUsers, &UserModel{}, []any{"status = ?", ct.StatusActive}},
		{&out.NewUsersToday, &UserModel{}, []any{"created_at >= ?", today}},
		{&out.TotalTrades, &TradeModel{}, nil},
		{&out.CompletedTrades, &TradeModel{}, []any{"status = ?", ct.TradeStatusCompleted}},
		{&out.TradesToday, &TradeModel{}, []any{"created_at >= ?", today}},
	}
	for _, c := range counts {
		q := s.db.Model(c.model)
		if c.where != nil {
			q = q.Where(c.where[0], c.where[1:]...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}

	if err := s.db.Model(&BalanceModel{}).Select("COALESCE(SUM(points), 0)").Scan(&out.TotalPoints).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&CarbonCreditModel{}).Select("COALESCE(SUM(quantity), 0)").Scan(&out.TotalCarbonCredits).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// dailySeries returns one entry per day from since through today, oldest first
func dailySeries(since, now time.Time, times []time.Time) []ct.DailyCount {
	byDay := map[string]int64{}
	for _, t := range times {
		byDay[t.In(now.Location()).Format(time.DateOnly)]++
	}
	out := []ct.DailyCount{}
	for d := startOfDay(since); !d.After(now); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		out = append(out, ct.DailyCount{Date: key, Count: byDay[key]})
	}
	return out
}

func (s *StatsStore) TradeStats(days int) (*ct.TradeStats, error) {
	if days <= 0 {
		days = 30
	}
	now := s.now()
	since := startOfDay(now).AddDate(0, 0, -(days - 1))

	var trades []TradeModel
	if err := s.db.Select("quantity", "price", "status", "created_at").
		Where("created_at >= ?", since).Find(&trades).Error; err != nil {
		return nil, err
	}

	out := &ct.TradeStats{ByStatus: []ct.TradeStatusCount{}}
	times := make([]time.Time, len(trades))
	byStatus := map[string]*ct.TradeStatusCount{}
	for i, t := range trades {
		times[i] = t.CreatedAt
		value := t.Quantity * t.Price
		out.TotalVolume += t.Quantity
		sc, ok := byStatus[t.Status]
		if !ok {
			sc = &ct.TradeStatusCount{Status: t.Status}
			byStatus[t.Status] = sc
		}
		sc.Count++
		sc.TotalValue += value
	}
	out.DailyTrades = dailySeries(since, now, times)
	for _, sc := range byStatus {
		out.ByStatus = append(out.ByStatus, *sc)
	}
	sort.Slice(out.ByStatus, func(i, j int) bool { return out.ByStatus[i].Status < out.ByStatus[j].Status })
	return out, nil
}

func (s *StatsStore) UserStats(days int) (*ct.UserStats, error) {
	if days <= 0 {
		days = 30
	}
	now := s.now()
	since := startOfDay(now).AddDate(0, 0, -(days - 1))

	var users []UserModel
	if err := s.db.Select("role", "status", "created_at").Find(&users).Error; err != nil {
		return nil, err
	}

	out := &ct.UserStats{ByRole: []ct.RoleCount{}, ByStatus: []ct.StatusCount{}}
	var recent []time.Time
	byRole := map[string]int64{}
	byStatus := map[string]int64{}
	for _, u := range users {
		byRole[u.Role]++
		byStatus[u.Status]++
		if !u.CreatedAt.Before(since) {
			recent = append(recent, u.CreatedAt)
		}
	}
	out.DailyRegistrations = dailySeries(since, now, recent)
	for r, c := range byRole {
		out.ByRole = append(out.ByRole, ct.RoleCount{Role: r, Count: c})
	}
	sort.Slice(out.ByRole, func(i, j int) bool { return out.ByRole[i].Role < out.ByRole[j].Role })
	for st, c := range byStatus {
		out.ByStatus = append(out.ByStatus, ct.StatusCount{Status: st, Count: c})
	}
	sort.Slice(out.ByStatus, func(i, j int) bool { return out.ByStatus[i].Status < out.ByStatus[j].Status })
	return out, nil
}
