package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-admission-api/internal/dto"
	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/internal/repository"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
)

// refusingStore hands out course transactions whose reservations are refused
// even though the capacity row reports a free seat.
type refusingStore struct {
	*repository.MemoryStore
}

func (s refusingStore) WithinCourse(ctx context.Context, courseID string, fn repository.CourseTxFunc) error {
	return s.MemoryStore.WithinCourse(ctx, courseID, func(tx repository.CourseTx) error {
		return fn(refusingTx{CourseTx: tx})
	})
}

type refusingTx struct {
	repository.CourseTx
}

func (refusingTx) ReserveSlot(context.Context, time.Time) (bool, error) {
	return false, nil
}

func TestPromotionRefusedReservationRollsBack(t *testing.T) {
	s := newTestServices(t)
	s.course(t, "course-1", 1, true)
	ctx := context.Background()

	a := s.enroll(t, "user-a", "course-1")
	require.Equal(t, models.AdmissionActive, a.Outcome)
	require.Equal(t, models.AdmissionWaitlisted, s.enroll(t, "user-b", "course-1").Outcome)

	admission := NewAdmissionService(refusingStore{MemoryStore: s.store}, nil, s.notifier, s.metrics, nil, nil)
	_, err := admission.CancelEnrollment(ctx, student("user-a"), a.Enrollment.ID, dto.CancelEnrollmentRequest{})
	requireCode(t, err, appErrors.ErrServiceBusy)
	assert.True(t, appErrors.IsRetryable(err))

	stored, err := s.store.FindEnrollment(ctx, a.Enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)

	entries := s.assertWaitlistDense(t, "course-1")
	require.Len(t, entries, 1)
	assert.Equal(t, "user-b", entries[0].UserID)
	assert.Equal(t, 1, s.capacityOf(t, "course-1").CurrentEnrollments)
	assert.Empty(t, s.notifier.promotedUsers())
}

func TestPromotionWithoutNotifier(t *testing.T) {
	var typedNil *NotificationService
	cases := map[string]Notifier{
		"nil interface":            nil,
		"nil notification service": typedNil,
	}
	for name, notifier := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestServices(t)
			s.admission = NewAdmissionService(s.store, nil, notifier, s.metrics, nil, nil)
			s.admission.now = s.waitlist.now
			s.course(t, "course-1", 1, true)
			ctx := context.Background()

			a := s.enroll(t, "user-a", "course-1")
			require.Equal(t, models.AdmissionWaitlisted, s.enroll(t, "user-b", "course-1").Outcome)

			_, err := s.admission.CancelEnrollment(ctx, student("user-a"), a.Enrollment.ID, dto.CancelEnrollmentRequest{})
			require.NoError(t, err)
			open := s.openEnrollments(t, "course-1")
			require.Len(t, open, 1)
			assert.Equal(t, "user-b", open[0].UserID)
			assert.Empty(t, s.assertWaitlistDense(t, "course-1"))
		})
	}
}
