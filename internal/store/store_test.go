package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"agendas/api/internal/board"
	"agendas/api/internal/scope"
)

type remoteStore interface {
	SelectIndicators(ctx context.Context, key scope.Key) ([]board.Record, error)
	BulkInsertIndicators(ctx context.Context, key scope.Key, records []board.Record) error
	UpsertIndicator(ctx context.Context, key scope.Key, record board.Record) error
	GetMetadata(ctx context.Context, key scope.MeetingKey) (board.Metadata, bool, error)
	InsertMetadata(ctx context.Context, key scope.MeetingKey, meta board.Metadata) error
	UpsertMetadata(ctx context.Context, key scope.MeetingKey, meta board.Metadata) error
	SearchIndicators(ctx context.Context, query string, limit int) ([]IndicatorEntry, error)
	ListIndicators(ctx context.Context) ([]IndicatorEntry, error)
}

var (
	_ remoteStore = (*SQLStore)(nil)
	_ remoteStore = (*MemoryStore)(nil)
)

func storesUnderTest(t *testing.T) map[string]remoteStore {
	t.Helper()
	ctx := context.Background()
	migrations, err := Migrations("")
	if err != nil {
		t.Fatalf("open migrations: %v", err)
	}

	sqliteDB, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "agendas.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqliteDB.Close() })
	if err := ApplyMigrations(ctx, sqliteDB, SQLite, migrations); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	stores := map[string]remoteStore{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(sqliteDB),
	}

	if dsn := strings.TrimSpace(os.Getenv("AGENDA_TEST_DATABASE_URL")); dsn != "" {
		pg, err := OpenPostgres(ctx, dsn)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		if err := resetPublicSchema(ctx, pg); err != nil {
			t.Fatalf("reset schema: %v", err)
		}
		if err := ApplyMigrations(ctx, pg, Postgres, migrations); err != nil {
			t.Fatalf("migrate postgres: %v", err)
		}
		stores["postgres"] = NewPostgresStore(pg)
	}
	return stores
}

func sortRecords(records []board.Record) []board.Record {
	out := slices.Clone(records)
	slices.SortFunc(out, func(a, b board.Record) int {
		return strings.Compare(a.Category+"\x00"+a.KPIName, b.Category+"\x00"+b.KPIName)
	})
	return out
}

func testKey(branch string) scope.Key {
	return scope.NewKey("bm-meeting", branch, scope.NewDate(2025, time.March, 4))
}

func TestStoreContract(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("select filters by scope", func(t *testing.T) {
				se := testKey("SE")
				nKey := testKey("N")
				if err := s.BulkInsertIndicators(ctx, se, []board.Record{
					{Category: "Client", KPIName: "New Jobs", Target: "-", Status: board.StatusInProgress, Explanation: "not stored"},
					{Category: "Financial", KPIName: "Client Retention Rate", Target: "90%", Status: board.StatusInProgress},
				}); err != nil {
					t.Fatalf("BulkInsertIndicators() error = %v", err)
				}
				if err := s.BulkInsertIndicators(ctx, nKey, []board.Record{{Category: "Client", KPIName: "New Jobs"}}); err != nil {
					t.Fatalf("BulkInsertIndicators(N) error = %v", err)
				}

				got, err := s.SelectIndicators(ctx, se)
				if err != nil {
					t.Fatalf("SelectIndicators() error = %v", err)
				}
				want := []board.Record{
					{Category: "Client", KPIName: "New Jobs", Target: "-", Status: board.StatusInProgress},
					{Category: "Financial", KPIName: "Client Retention Rate", Target: "90%", Status: board.StatusInProgress},
				}
				if diff := cmp.Diff(want, sortRecords(got)); diff != "" {
					t.Fatalf("SelectIndicators() mismatch (-want +got):\n%s", diff)
				}

				other, err := s.SelectIndicators(ctx, scope.NewKey("bm-meeting", "SE", scope.NewDate(2025, time.March, 18)))
				if err != nil || len(other) != 0 {
					t.Fatalf("SelectIndicators(other date) = %v, %v", other, err)
				}
			})

			t.Run("bulk insert is all or nothing", func(t *testing.T) {
				key := testKey("SW")
				if err := s.BulkInsertIndicators(ctx, key, []board.Record{{Category: "Internal", KPIName: "Fleet Management"}}); err != nil {
					t.Fatalf("seed: %v", err)
				}
				err := s.BulkInsertIndicators(ctx, key, []board.Record{
					{Category: "Internal", KPIName: "Safety Compliance"},
					{Category: "Internal", KPIName: "Fleet Management"},
				})
				if !errors.Is(err, ErrConflict) {
					t.Fatalf("BulkInsertIndicators() error = %v, want ErrConflict", err)
				}
				got, err := s.SelectIndicators(ctx, key)
				if err != nil {
					t.Fatalf("SelectIndicators() error = %v", err)
				}
				if len(got) != 1 {
					t.Fatalf("partial batch persisted: %+v", got)
				}
			})

			t.Run("upsert is idempotent", func(t *testing.T) {
				key := testKey("LV")
				record := board.Record{Category: "Client", KPIName: "Hot Properties", Target: "-", Actual: "3", Status: board.StatusResolving, Actions: "**Chandler** walk"}
				if err := s.UpsertIndicator(ctx, key, record); err != nil {
					t.Fatalf("UpsertIndicator() error = %v", err)
				}
				once, _ := s.SelectIndicators(ctx, key)
				if err := s.UpsertIndicator(ctx, key, record); err != nil {
					t.Fatalf("UpsertIndicator() second error = %v", err)
				}
				twice, _ := s.SelectIndicators(ctx, key)
				if diff := cmp.Diff(once, twice); diff != "" {
					t.Fatalf("second upsert changed rows (-once +twice):\n%s", diff)
				}

				record.Actions = "resolved"
				if err := s.UpsertIndicator(ctx, key, record); err != nil {
					t.Fatalf("UpsertIndicator() overwrite error = %v", err)
				}
				got, _ := s.SelectIndicators(ctx, key)
				if diff := cmp.Diff([]board.Record{record}, got); diff != "" {
					t.Fatalf("overwrite mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("metadata", func(t *testing.T) {
				key := scope.MeetingKey{Kind: "bm-meeting", Date: scope.NewDate(2025, time.March, 4)}
				if _, found, err := s.GetMetadata(ctx, key); err != nil || found {
					t.Fatalf("GetMetadata() before insert = %v, %v", found, err)
				}
				meta := board.Metadata{ReadingList: []string{"Seven habits of highly effective people", "Raving fans"}}
				if err := s.InsertMetadata(ctx, key, meta); err != nil {
					t.Fatalf("InsertMetadata() error = %v", err)
				}
				if err := s.InsertMetadata(ctx, key, meta); !errors.Is(err, ErrConflict) {
					t.Fatalf("second InsertMetadata() error = %v, want ErrConflict", err)
				}
				meta.Facilitator = "Dana"
				meta.ReadingList = append(meta.ReadingList, "Extreme ownership")
				if err := s.UpsertMetadata(ctx, key, meta); err != nil {
					t.Fatalf("UpsertMetadata() error = %v", err)
				}
				got, found, err := s.GetMetadata(ctx, key)
				if err != nil || !found {
					t.Fatalf("GetMetadata() = %v, %v", found, err)
				}
				if diff := cmp.Diff(meta, got); diff != "" {
					t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("search", func(t *testing.T) {
				hits, err := s.SearchIndicators(ctx, "chandler", 10)
				if err != nil {
					t.Fatalf("SearchIndicators() error = %v", err)
				}
				if len(hits) != 0 {
					t.Fatalf("stale actions matched: %+v", hits)
				}
				hits, err = s.SearchIndicators(ctx, "RESOLVED", 10)
				if err != nil {
					t.Fatalf("SearchIndicators() error = %v", err)
				}
				if len(hits) != 1 || hits[0].Scope != testKey("LV") || hits[0].Record.KPIName != "Hot Properties" {
					t.Fatalf("SearchIndicators() = %+v", hits)
				}

				all, err := s.ListIndicators(ctx)
				if err != nil {
					t.Fatalf("ListIndicators() error = %v", err)
				}
				if len(all) != 1 {
					t.Fatalf("ListIndicators() = %+v, want only rows with actions", all)
				}
			})
		})
	}
}

func TestDialectRebind(t *testing.T) {
	query := `SELECT 1 WHERE a = $1 AND b = $2 OR c = $1`
	if got := SQLite.rebind(query); got != `SELECT 1 WHERE a = ?1 AND b = ?2 OR c = ?1` {
		t.Fatalf("rebind(sqlite) = %s", got)
	}
	if got := Postgres.rebind(query); got != query {
		t.Fatalf("rebind(postgres) = %s", got)
	}
}

func TestScanDate(t *testing.T) {
	want := scope.NewDate(2025, time.March, 4)
	for _, value := range []any{
		time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		"2025-03-04",
		"2025-03-04T00:00:00Z",
		[]byte("2025-03-04"),
	} {
		got, err := scanDate(value)
		if err != nil || got != want {
			t.Fatalf("scanDate(%v) = %v, %v", value, got, err)
		}
	}
	if _, err := scanDate(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
