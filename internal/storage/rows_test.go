package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBanEvents_InsertListAndBannedSet(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	bans := []*BanEvent{
		{ID: uuid.New().String(), WorkerID: "w1", BanDate: now - 3600, BanType: "temporary",
			AccountAgeDays: 12, BanDelayHours: 2.5, TotalActions: 340, ActionsLast24h: 80,
			ActionsLast72h: 150, LastModule: "feed", LastAction: "like"},
		{ID: uuid.New().String(), WorkerID: "w1", BanDate: now - 100, BanType: "permanent",
			AccountAgeDays: 13, BanDelayHours: 0.5, TotalActions: 360, ActionsLast24h: 20,
			ActionsLast72h: 90},
		{ID: uuid.New().String(), WorkerID: "w2", BanDate: now - 40*24*3600, BanType: "temporary",
			AccountAgeDays: 5, BanDelayHours: 1, TotalActions: 40, ActionsLast24h: 40,
			ActionsLast72h: 40, LastModule: "groups", LastAction: "join_group"},
	}
	for i, b := range bans {
		if err := db.InsertBanEvent(b); err != nil {
			t.Fatalf("InsertBanEvent[%d]: %v", i, err)
		}
	}

	all, err := db.ListBanEvents(0)
	if err != nil {
		t.Fatalf("ListBanEvents all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].BanType != "permanent" {
		t.Errorf("all[0].BanType = %q, want permanent (newest first)", all[0].BanType)
	}

	recent, err := db.ListBanEvents(now - 7200)
	if err != nil {
		t.Fatalf("ListBanEvents recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent len = %d, want 2", len(recent))
	}

	banned, err := db.BannedWorkerIDs()
	if err != nil {
		t.Fatalf("BannedWorkerIDs: %v", err)
	}
	if len(banned) != 2 || !banned["w1"] || !banned["w2"] {
		t.Errorf("banned = %v, want {w1, w2}", banned)
	}
}

func TestRiskScores_AppendOnlyLatest(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	for i, total := range []int{25, 55} {
		rs := &RiskScore{
			ID: uuid.New().String(), WorkerID: "w1", ScoreDate: now - int64(100-i),
			AgeScore: 50, FrequencyScore: 40, PatternScore: 50, ContentScore: 30,
			IPScore: 50, TotalScore: total, RiskLevel: RiskMedium,
		}
		if i == 1 {
			rs.RiskLevel = RiskHigh
		}
		if err := db.InsertRiskScore(rs); err != nil {
			t.Fatalf("InsertRiskScore[%d]: %v", i, err)
		}
	}

	latest, ok, err := db.LatestRiskScore("w1")
	if err != nil {
		t.Fatalf("LatestRiskScore: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if latest.TotalScore != 55 || latest.RiskLevel != RiskHigh {
		t.Errorf("latest = %d/%s, want 55/high", latest.TotalScore, latest.RiskLevel)
	}

	// History is preserved, not overwritten.
	var n int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM risk_scores WHERE worker_id = 'w1'`).Scan(&n); err != nil {
		t.Fatalf("count scores: %v", err)
	}
	if n != 2 {
		t.Errorf("score rows = %d, want 2", n)
	}

	_, ok, err = db.LatestRiskScore("ghost")
	if err != nil {
		t.Fatalf("LatestRiskScore ghost: %v", err)
	}
	if ok {
		t.Error("ok = true for unscored worker, want false")
	}
}

func TestLatestRiskScores_OnePerWorker(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	rows := []struct {
		worker string
		date   int64
		level  string
	}{
		{"w1", now - 300, RiskLow},
		{"w1", now - 100, RiskCritical},
		{"w2", now - 200, RiskMedium},
	}
	for i, r := range rows {
		rs := &RiskScore{ID: uuid.New().String(), WorkerID: r.worker, ScoreDate: r.date,
			TotalScore: 50, RiskLevel: r.level}
		if err := db.InsertRiskScore(rs); err != nil {
			t.Fatalf("InsertRiskScore[%d]: %v", i, err)
		}
	}

	latest, err := db.LatestRiskScores(now - 3600)
	if err != nil {
		t.Fatalf("LatestRiskScores: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("len = %d, want 2 (one per worker)", len(latest))
	}
	for _, rs := range latest {
		if rs.WorkerID == "w1" && rs.RiskLevel != RiskCritical {
			t.Errorf("w1 latest level = %q, want critical", rs.RiskLevel)
		}
	}
}

func TestThresholds_UpsertInPlace(t *testing.T) {
	db := testDB(t)

	tr := &ThresholdRow{
		ActionType: "like", TimeWindow: "daily",
		SafeThreshold: 14, WarningThreshold: 18, DangerThreshold: 25,
		BanThreshold: 35, SampleSize: 10, LastUpdated: time.Now().Unix(),
	}
	if err := db.UpsertThreshold(tr); err != nil {
		t.Fatalf("UpsertThreshold: %v", err)
	}

	tr.SafeThreshold = 16
	tr.SampleSize = 40
	if err := db.UpsertThreshold(tr); err != nil {
		t.Fatalf("UpsertThreshold again: %v", err)
	}

	got, ok, err := db.GetThreshold("like", "daily")
	if err != nil {
		t.Fatalf("GetThreshold: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if got.SafeThreshold != 16 || got.SampleSize != 40 {
		t.Errorf("got safe=%d sample=%d, want 16/40 (overwritten)", got.SafeThreshold, got.SampleSize)
	}

	all, err := db.ListThresholds("")
	if err != nil {
		t.Fatalf("ListThresholds: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("rows = %d, want 1 (upsert, not append)", len(all))
	}

	_, ok, err = db.GetThreshold("like", "weekly")
	if err != nil {
		t.Fatalf("GetThreshold weekly: %v", err)
	}
	if ok {
		t.Error("ok = true for missing window, want false")
	}
}
