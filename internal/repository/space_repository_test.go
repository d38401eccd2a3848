package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/model"
)

const (
	claimSQL   = `UPDATE parking_spaces SET is_occupied = 1, updated_at = UTC_TIMESTAMP() WHERE id = ? AND is_occupied = 0`
	releaseSQL = `UPDATE parking_spaces SET is_occupied = 0, updated_at = UTC_TIMESTAMP() WHERE id = ? AND is_occupied = 1`
	existsSQL  = `SELECT 1 FROM parking_spaces WHERE id = ?`
)

func newSpaceRepo(t *testing.T) (*SpaceRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSpaceRepo(db), mock
}

func claimSession() *model.ParkingSession {
	return &model.ParkingSession{
		VehicleID:     null.IntFrom(4),
		SpaceID:       null.IntFrom(7),
		UserID:        2,
		LotID:         10,
		NumberPlate:   "KDA123A",
		EntryTime:     time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		Status:        model.SessionOccupied,
		PaymentStatus: model.PaymentPending,
	}
}

func TestSpaceRepoClaimForSession(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(sqlmock.Sqlmock)
		wantID  uint64
		wantErr error
	}{
		{
			name: "free space is claimed with its session",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(claimSQL)).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectExec(regexp.QuoteMeta(`INSERT INTO parking_sessions`)).WillReturnResult(sqlmock.NewResult(31, 1))
				m.ExpectCommit()
			},
			wantID: 31,
		},
		{
			name: "occupied space",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(claimSQL)).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 0))
				m.ExpectQuery(regexp.QuoteMeta(existsSQL)).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
				m.ExpectRollback()
			},
			wantErr: ErrStaleState,
		},
		{
			name: "unknown space",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(claimSQL)).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 0))
				m.ExpectQuery(regexp.QuoteMeta(existsSQL)).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"1"}))
				m.ExpectRollback()
			},
			wantErr: ErrNotFound,
		},
		{
			name: "vehicle already parked rolls the claim back",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(claimSQL)).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectExec(regexp.QuoteMeta(`INSERT INTO parking_sessions`)).
					WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '4' for key 'uq_sessions_active_vehicle'"})
				m.ExpectRollback()
			},
			wantErr: ErrConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newSpaceRepo(t)
			tt.setup(mock)

			s := claimSession()
			err := repo.ClaimForSession(context.Background(), s)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err: got %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.ID != tt.wantID {
				t.Errorf("session id: got %d, want %d", s.ID, tt.wantID)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSpaceRepoReleaseVacantSpace(t *testing.T) {
	repo, mock := newSpaceRepo(t)
	q := regexp.QuoteMeta(`AND updated_at < UTC_TIMESTAMP() - INTERVAL ? SECOND
		    AND NOT EXISTS (SELECT 1 FROM parking_sessions WHERE space_id = ? AND status = ?)`)
	mock.ExpectExec(q).WithArgs(3, 30, 3, model.SessionOccupied).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(3, 30, 3, model.SessionOccupied).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if ok, err := repo.ReleaseVacantSpace(ctx, 3, 30*time.Second); err != nil || !ok {
		t.Fatalf("vacant: got %v, %v; want true, nil", ok, err)
	}
	if ok, err := repo.ReleaseVacantSpace(ctx, 3, 30*time.Second); err != nil || ok {
		t.Fatalf("held or recent: got %v, %v; want false, nil", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSpaceRepoReclaimSpace(t *testing.T) {
	repo, mock := newSpaceRepo(t)
	q := regexp.QuoteMeta(`AND EXISTS (SELECT 1 FROM parking_sessions WHERE id = ? AND space_id = ? AND status = ?)`)
	mock.ExpectExec(q).WithArgs(3, 11, 3, model.SessionOccupied).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ReclaimSpace(context.Background(), 3, 11)
	if err != nil || ok {
		t.Fatalf("closed session: got %v, %v; want false, nil", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSpaceRepoReleaseSpaceIsIdempotent(t *testing.T) {
	repo, mock := newSpaceRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(releaseSQL)).WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(releaseSQL)).WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(existsSQL)).WithArgs(3).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	ctx := context.Background()
	first, err := repo.ReleaseSpace(ctx, 3)
	if err != nil || !first {
		t.Fatalf("first release: got %v, %v; want true, nil", first, err)
	}
	second, err := repo.ReleaseSpace(ctx, 3)
	if err != nil || second {
		t.Fatalf("second release: got %v, %v; want false, nil", second, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSpaceRepoListOccupiedSpaces(t *testing.T) {
	repo, mock := newSpaceRepo(t)
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "lot_id", "space_number", "is_occupied", "created_at", "updated_at"}).
		AddRow(1, 10, "A1", true, now, now).
		AddRow(4, 10, "A4", true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM parking_spaces WHERE is_occupied = 1 ORDER BY id`)).WillReturnRows(rows)

	got, err := repo.ListOccupiedSpaces(context.Background())
	if err != nil {
		t.Fatalf("ListOccupiedSpaces: %v", err)
	}
	if len(got) != 2 || got[1].SpaceNumber != "A4" || !got[1].IsOccupied {
		t.Errorf("got %+v, want spaces A1 and A4 occupied", got)
	}
}

func TestSpaceRepoGetSpaceNotFound(t *testing.T) {
	repo, mock := newSpaceRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM parking_spaces WHERE id = ?`)).WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id", "space_number", "is_occupied", "created_at", "updated_at"}))

	if _, err := repo.GetSpace(context.Background(), 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
