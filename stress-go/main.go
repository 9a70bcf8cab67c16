package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	sqlift "github.com/DimitreBogdanov/SQLift"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Context key for worker ID
type contextKey string

const workerIDKey contextKey = "worker_id"

// slogLogger forwards gorm records to slog, tagged with the worker ID.
type slogLogger struct {
	logger *slog.Logger
	level  gormlogger.LogLevel
}

func (l *slogLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &slogLogger{logger: l.logger, level: level}
}

func (l *slogLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *slogLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *slogLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *slogLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	sql, rows := fc()
	workerID := "http"
	if id := ctx.Value(workerIDKey); id != nil {
		workerID = fmt.Sprintf("worker-%v", id)
	}
	attrs := []any{"worker", workerID, "elapsed", time.Since(begin), "rows", rows, "sql", sql}
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.logger.ErrorContext(ctx, "query failed", append(attrs, "error", err)...)
	case l.level >= gormlogger.Info:
		l.logger.DebugContext(ctx, "query", attrs...)
	}
}

// Model for stress testing
type Record struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Name      string `gorm:"index" json:"name"`
	Value     int    `json:"value"`
	Data      string `json:"data"`
}

// Stats tracking
type Stats struct {
	Inserts     atomic.Int64
	Updates     atomic.Int64
	Deletes     atomic.Int64
	Selects     atomic.Int64
	Errors      atomic.Int64
	Checkpoints atomic.Int64
	Integrity   atomic.Int64
}

func (s *Stats) snapshot() map[string]int64 {
	return map[string]int64{
		"inserts":          s.Inserts.Load(),
		"updates":          s.Updates.Load(),
		"deletes":          s.Deletes.Load(),
		"selects":          s.Selects.Load(),
		"checkpoints":      s.Checkpoints.Load(),
		"integrity_checks": s.Integrity.Load(),
		"errors":           s.Errors.Load(),
	}
}

type harness struct {
	db     *gorm.DB
	dbPath string
	logger *slog.Logger
	stats  Stats
	// workers hold the read side; integrity checks take the write side
	pause sync.RWMutex
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))

	dbPath := envString("DB_PATH", "stress_test.db")
	port := envString("PORT", "8080")
	numWorkers := envInt("NUM_WORKERS", 10)
	checkpointInterval := time.Duration(envInt("CHECKPOINT_INTERVAL_MS", 1000)) * time.Millisecond
	integrityInterval := time.Duration(envInt("INTEGRITY_INTERVAL_MS", 30000)) * time.Millisecond

	if err := sqlift.InitLibrary(sqlift.LibraryConfig{Logger: logger}); err != nil {
		logger.Error("failed to load sqlite3", "error", err)
		os.Exit(1)
	}

	// every pooled connection waits up to 5 seconds on a locked database
	dsn := dbPath + "?mode=rwc&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: sqlift.DriverName,
		DSN:        dsn,
	}, &gorm.Config{
		Logger: &slogLogger{logger: logger, level: gormlogger.Warn},
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("failed to get underlying sql.DB", "error", err)
		os.Exit(1)
	}
	sqlDB.SetMaxOpenConns(0)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logger.Error("failed to set journal mode", "error", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		logger.Error("failed to migrate", "error", err)
		os.Exit(1)
	}

	h := &harness{db: db, dbPath: dbPath, logger: logger}
	logger.Info("database initialized", "path", dbPath, "checkpoint_interval", checkpointInterval, "integrity_interval", integrityInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.every(ctx, "checkpoint", checkpointInterval, h.checkpoint)
	go h.every(ctx, "stats", 5*time.Second, func() error {
		logger.Info("stats", "counters", h.stats.snapshot())
		return nil
	})
	go h.every(ctx, "integrity", integrityInterval, h.integrityCheck)

	mux := http.NewServeMux()
	mux.HandleFunc("/insert", h.handleInsert)
	mux.HandleFunc("/update", h.handleUpdate)
	mux.HandleFunc("/delete", h.handleDelete)
	mux.HandleFunc("/select", h.handleSelect)
	mux.HandleFunc("/bulk", h.handleBulk)
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/health", h.handleHealth)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down")
		cancel()
		_ = server.Shutdown(context.Background())
	}()

	logger.Info("server starting", "port", port, "workers", numWorkers)
	baseURL := fmt.Sprintf("http://localhost:%s", port)
	for i := 0; i < numWorkers; i++ {
		go h.stressWorker(ctx, i, baseURL)
	}

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// every runs fn on each tick until ctx is done. Failures count as errors.
func (h *harness) every(ctx context.Context, name string, interval time.Duration, fn func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("background job stopped", "job", name)
			return
		case <-ticker.C:
			if err := fn(); err != nil {
				h.logger.Warn("background job failed", "job", name, "error", err)
				h.stats.Errors.Add(1)
			}
		}
	}
}

func (h *harness) checkpoint() error {
	modes := []string{"TRUNCATE", "RESTART", "FULL", "PASSIVE"}
	mode := modes[rand.Intn(len(modes))]
	if err := h.db.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)).Error; err != nil {
		return fmt.Errorf("checkpoint %s: %w", mode, err)
	}
	h.stats.Checkpoints.Add(1)
	return nil
}

// integrityCheck pauses the workers and reads PRAGMA integrity_check over a
// dedicated connection. Corruption stops the process.
func (h *harness) integrityCheck() error {
	h.pause.Lock()
	defer h.pause.Unlock()

	conn := sqlift.New(h.dbPath, sqlift.WithBusyTimeout(5000), sqlift.WithLogger(h.logger))
	if err := conn.Open(); err != nil {
		return err
	}
	defer conn.Close()

	stmt, err := conn.Prepare("PRAGMA integrity_check")
	if err != nil {
		return err
	}
	defer stmt.Close()
	cursor, err := stmt.ExecuteQuery()
	if err != nil {
		return err
	}
	defer cursor.Close()

	var problems []string
	for cursor.Next() {
		line, err := cursor.GetString(0)
		if err != nil {
			return err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	h.stats.Integrity.Add(1)
	if len(problems) > 0 {
		h.logger.Error("database corruption detected", "problems", problems)
		os.Exit(2)
	}
	h.logger.Info("integrity check passed")
	return nil
}

// Stress worker that continuously hammers HTTP endpoints
func (h *harness) stressWorker(ctx context.Context, id int, baseURL string) {
	client := &http.Client{Timeout: 30 * time.Second}
	endpoints := []string{"/insert", "/update", "/delete", "/select", "/bulk"}
	weights := []int{20, 15, 5, 10, 50}
	workerID := strconv.Itoa(id)

	var weighted []string
	for i, ep := range endpoints {
		for j := 0; j < weights[i]; j++ {
			weighted = append(weighted, ep)
		}
	}

	// let the server start listening
	time.Sleep(100 * time.Millisecond)

	for ctx.Err() == nil {
		endpoint := weighted[rand.Intn(len(weighted))]
		method := http.MethodPost
		if endpoint == "/select" {
			method = http.MethodGet
		}
		req, err := http.NewRequestWithContext(ctx, method, baseURL+endpoint, nil)
		if err != nil {
			return
		}
		req.Header.Set("X-Worker-ID", workerID)

		h.pause.RLock()
		resp, err := client.Do(req)
		h.pause.RUnlock()
		if err == nil {
			resp.Body.Close()
		}
		time.Sleep(time.Duration(10+rand.Intn(400)) * time.Millisecond)
	}
	h.logger.Debug("stress worker stopped", "worker", id)
}

// HTTP Handlers

func workerContext(r *http.Request) context.Context {
	ctx := r.Context()
	if workerID := r.Header.Get("X-Worker-ID"); workerID != "" {
		ctx = context.WithValue(ctx, workerIDKey, workerID)
	}
	return ctx
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *harness) fail(w http.ResponseWriter, err error) {
	h.stats.Errors.Add(1)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func newRecord(name string) Record {
	now := time.Now().Format(time.RFC3339)
	return Record{
		CreatedAt: now,
		UpdatedAt: now,
		Name:      name,
		Value:     rand.Intn(10000),
		Data:      randomString(100),
	}
}

func (h *harness) handleInsert(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	record := newRecord(fmt.Sprintf("record_%d", rand.Int63()))
	err := h.db.WithContext(workerContext(r)).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&record).Error
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.stats.Inserts.Add(1)
	_ = json.NewEncoder(w).Encode(record)
}

func (h *harness) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var record Record
	err := h.db.WithContext(workerContext(r)).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&record, rand.Intn(100000)+1).Error; err != nil {
			return err
		}
		record.Value = rand.Intn(10000)
		record.Data = randomString(100)
		record.UpdatedAt = time.Now().Format(time.RFC3339)
		return tx.Save(&record).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, "No records to update", http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	h.stats.Updates.Add(1)
	_ = json.NewEncoder(w).Encode(record)
}

func (h *harness) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	id := rand.Intn(100000) + 1
	var rowsAffected int64
	err := h.db.WithContext(workerContext(r)).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Record{}, id)
		rowsAffected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	if rowsAffected == 0 {
		http.Error(w, "No records to delete", http.StatusNotFound)
		return
	}
	h.stats.Deletes.Add(1)
	_ = json.NewEncoder(w).Encode(map[string]any{"deleted_id": id})
}

func (h *harness) handleSelect(w http.ResponseWriter, r *http.Request) {
	ids := make([]int, 10)
	for i := range ids {
		ids[i] = rand.Intn(100000) + 1
	}
	var records []Record
	if err := h.db.WithContext(workerContext(r)).Find(&records, ids).Error; err != nil {
		h.fail(w, err)
		return
	}
	h.stats.Selects.Add(1)
	_ = json.NewEncoder(w).Encode(records)
}

func (h *harness) handleBulk(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	count := 100
	records := make([]Record, count)
	for i := range records {
		records[i] = newRecord(fmt.Sprintf("bulk_%d_%d", time.Now().UnixNano(), i))
	}
	err := h.db.WithContext(workerContext(r)).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.stats.Inserts.Add(int64(count))
	_ = json.NewEncoder(w).Encode(map[string]any{"inserted": count})
}

func (h *harness) handleStats(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(h.stats.snapshot())
}

func (h *harness) handleHealth(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if err := sqlDB.PingContext(r.Context()); err != nil {
		http.Error(w, "Database ping failed", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte("OK"))
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(envString("LOG_LEVEL", "info"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
