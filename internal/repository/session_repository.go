package repository

import (
	"context"
	"errors"

	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/storage"
)

type SessionRepository struct {
	store storage.Store
}

func NewSessionRepository(store storage.Store) *SessionRepository {
	return &SessionRepository{store: store}
}

func sessionKey(sessionID, userID string) storage.Key {
	return storage.Key{"sessionId": sessionID, "userId": userID}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if err := r.store.Put(ctx, tableSessions, models.EncodeSession(session)); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *SessionRepository) Find(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	rec, err := r.store.Get(ctx, tableSessions, sessionKey(sessionID, userID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.SessionNotFound(sessionID)
		}
		return nil, storeErr(err)
	}
	session, err := models.DecodeSession(rec)
	if err != nil {
		return nil, apperrors.Corrupted("session", err)
	}
	return session, nil
}

// UpdateVersioned writes the session only when the stored version still
// equals expectedVersion. The caller must have advanced session.Version
// past it. Reports false on a losing race.
func (r *SessionRepository) UpdateVersioned(ctx context.Context, session *models.Session, expectedVersion int64) (bool, error) {
	rec := models.EncodeSession(session)
	delete(rec, "sessionId")
	delete(rec, "userId")
	ok, err := r.store.UpdateConditional(ctx, tableSessions,
		sessionKey(session.ID, session.UserID),
		storage.Mutation{Set: rec},
		storage.Key{"version": expectedVersion})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, apperrors.SessionNotFound(session.ID)
		}
		return false, storeErr(err)
	}
	return ok, nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string, status models.SessionStatus, limit int) ([]*models.Session, error) {
	filter := storage.Key{"userId": userID}
	if status != "" {
		filter["status"] = string(status)
	}
	recs, err := r.store.Query(ctx, tableSessions, storage.Query{
		Filter:    filter,
		SortField: "createdAt",
		Ascending: false,
		Limit:     limit,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	sessions := make([]*models.Session, 0, len(recs))
	for _, rec := range recs {
		session, err := models.DecodeSession(rec)
		if err != nil {
			return nil, apperrors.Corrupted("session", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID, userID string) error {
	if err := r.store.Delete(ctx, tableSessions, sessionKey(sessionID, userID)); err != nil {
		return storeErr(err)
	}
	return nil
}
