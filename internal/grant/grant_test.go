package grant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remnashop-bot/internal/database/dbtest"
	"remnashop-bot/internal/ledger"
	"remnashop-bot/internal/models"
	"remnashop-bot/internal/users"
)

type fakeFulfiller struct {
	mu       sync.Mutex
	orders   []string
	FulfilFn func(ctx context.Context, order *models.Order) (*models.User, error)
}

func (f *fakeFulfiller) Fulfil(ctx context.Context, order *models.Order) (*models.User, error) {
	f.mu.Lock()
	f.orders = append(f.orders, order.ID)
	f.mu.Unlock()
	if f.FulfilFn != nil {
		return f.FulfilFn(ctx, order)
	}
	return &models.User{ID: order.UserID}, nil
}

type recorder struct {
	failed []string
	alerts []string
}

func (r *recorder) ProvisioningFailed(_ context.Context, _ *models.User, o *models.Order) {
	r.failed = append(r.failed, o.ID)
}

func (r *recorder) Alert(_ context.Context, msg string, _ ...any) {
	r.alerts = append(r.alerts, msg)
}

var (
	trialLimits    = Limits{Enabled: true, Days: 3, TrafficGB: 1, Devices: 1}
	referralLimits = Limits{Enabled: true, TrafficGB: 50, Devices: 1}
)

func setup(t *testing.T) (*Granter, *ledger.Ledger, *users.Repository, *fakeFulfiller, *recorder) {
	t.Helper()
	db := dbtest.New(t)
	l := ledger.New(db)
	repo := users.NewRepository(db)
	f := &fakeFulfiller{}
	rec := &recorder{}
	return New(db, l, repo, f, rec, rec, trialLimits, referralLimits), l, repo, f, rec
}

func TestGrantTrialOnce(t *testing.T) {
	g, l, repo, f, _ := setup(t)
	ctx := t.Context()
	user, _, err := repo.Upsert(ctx, users.Profile{TelegramID: 1})
	require.NoError(t, err)

	order, err := g.GrantTrial(ctx, user)
	require.NoError(t, err)
	assert.True(t, user.TrialUsed)

	stored, err := l.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, models.RailTrial, stored.Rail)
	assert.True(t, stored.IsTrial)
	assert.Equal(t, "trial_3d_1gb_1dev", stored.Tariff)
	assert.Equal(t, stored.StartsAt.AddDate(0, 0, 3).Unix(), stored.EndsAt.Unix())

	_, err = g.GrantTrial(ctx, user)
	assert.ErrorIs(t, err, ErrTrialUsed)
	assert.Equal(t, []string{order.ID}, f.orders)
}

func TestGrantTrialConcurrent(t *testing.T) {
	g, _, repo, f, _ := setup(t)
	user, _, err := repo.Upsert(t.Context(), users.Profile{TelegramID: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := *user
			if _, err := g.GrantTrial(context.Background(), &u); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrTrialUsed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, granted)
	assert.Len(t, f.orders, 1)
}

func TestGrantTrialDisabled(t *testing.T) {
	db := dbtest.New(t)
	repo := users.NewRepository(db)
	g := New(db, ledger.New(db), repo, &fakeFulfiller{}, &recorder{}, &recorder{}, Limits{}, Limits{})
	user, _, _ := repo.Upsert(t.Context(), users.Profile{TelegramID: 1})

	_, err := g.GrantTrial(t.Context(), user)
	assert.ErrorIs(t, err, ErrTrialDisabled)
	_, err = g.RedeemReferralDays(t.Context(), user)
	assert.ErrorIs(t, err, ErrReferralDisabled)

	stored, _ := repo.Get(t.Context(), user.ID)
	assert.False(t, stored.TrialUsed)
}

func TestTrialProvisioningFailureKeepsGrant(t *testing.T) {
	g, l, repo, f, rec := setup(t)
	f.FulfilFn = func(_ context.Context, o *models.Order) (*models.User, error) {
		return &models.User{ID: o.UserID}, errors.New("panel down")
	}
	user, _, _ := repo.Upsert(t.Context(), users.Profile{TelegramID: 1})

	order, err := g.GrantTrial(t.Context(), user)
	require.NoError(t, err)

	stored, err := l.Get(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, []string{order.ID}, rec.failed)
	assert.Equal(t, []string{"provisioning failed for trial order"}, rec.alerts)
}

func TestRedeemReferralDays(t *testing.T) {
	g, l, repo, _, _ := setup(t)
	ctx := t.Context()
	user, _, _ := repo.Upsert(ctx, users.Profile{TelegramID: 1})

	_, err := g.RedeemReferralDays(ctx, user)
	assert.ErrorIs(t, err, ErrNoReferralDays)

	require.NoError(t, repo.AddReferralBonus(ctx, user.ID, 5))
	require.NoError(t, repo.AddReferralBonus(ctx, user.ID, 5))

	order, err := g.RedeemReferralDays(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 10, user.ReferralDaysRedeemed)

	stored, err := l.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RailReferral, stored.Rail)
	assert.Equal(t, "referral_10d_50gb_1dev", stored.Tariff)
	assert.Equal(t, 10, stored.ReferralDaysApplied)

	_, err = g.RedeemReferralDays(ctx, user)
	assert.ErrorIs(t, err, ErrNoReferralDays)
}
