package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/storefront-e2e/internal/bootstrap"
	"github.com/kuitang/storefront-e2e/internal/email"
)

func TestLogin_PersistsStateAndFactoryReusesIt(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	env := SetupBrowserTestEnv(t)
	driver := env.InitBrowser(t)
	fx := env.NewLoginFixture(t, driver)
	ctx := TestContext(t)

	st, err := fx.Bootstrap.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, env.Storefront.URL, st.Origin)
	require.Equal(t, 1, env.Storefront.Logins())
	require.Equal(t, 1, env.Storefront.Mailbox.Count())

	saved, err := fx.Store.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, string(saved.StorageState), sessionCookie)

	s := AuthenticatedSession(t, fx.Factory, false)
	CaptureOnFailure(t, s, ResultsDir())
	RequireVisible(t, s, bootstrap.DefaultSelectors().Dashboard)
	require.Equal(t, 1, env.Storefront.Logins(), "reuse must not log in again")
	require.Zero(t, fx.Alerts.Count())
}

func TestLogin_ForcedRecreateLogsInOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	env := SetupBrowserTestEnv(t)
	fx := env.NewLoginFixture(t, env.InitBrowser(t))

	AuthenticatedSession(t, fx.Factory, false)
	require.Equal(t, 1, env.Storefront.Logins())

	AuthenticatedSession(t, fx.Factory, true)
	require.Equal(t, 2, env.Storefront.Logins())
}

func TestLogin_WrongCodeIsRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	env := SetupBrowserTestEnv(t)
	env.Storefront.DeliverWrongCodes()
	fx := env.NewLoginFixture(t, env.InitBrowser(t))

	_, err := fx.Bootstrap.Run(TestContext(t))
	require.ErrorIs(t, err, bootstrap.ErrFailed)
	var failed *bootstrap.FailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, bootstrap.StageOtpSubmitted, failed.Stage)
	require.Equal(t, bootstrap.ReasonDashboardNotConfirmed, failed.Reason)
	require.ErrorContains(t, err, "OTP rejected")
	require.Zero(t, env.Storefront.Logins())

	_, err = fx.Store.Load(context.Background())
	require.Error(t, err, "nothing persisted on failure")
}

func TestLogin_CodeFieldAppearsAfterReload(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	env := SetupBrowserTestEnv(t)
	env.Storefront.HideCodeFieldOnce()
	fx := env.NewLoginFixture(t, env.InitBrowser(t))
	fx.Bootstrap.Config.Timeouts.OTPField = 2 * time.Second

	_, err := fx.Bootstrap.Run(TestContext(t))
	require.NoError(t, err)
	require.Equal(t, 1, env.Storefront.Logins())
}

func TestLogin_RevokedSessionAlertsAndLogsInAgain(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	env := SetupBrowserTestEnv(t)
	fx := env.NewLoginFixture(t, env.InitBrowser(t))

	_, err := fx.Bootstrap.Run(TestContext(t))
	require.NoError(t, err)
	env.Storefront.RevokeSessions()

	s := AuthenticatedSession(t, fx.Factory, false)
	RequireVisible(t, s, bootstrap.DefaultSelectors().Dashboard)
	require.Equal(t, 2, env.Storefront.Logins())
	require.Equal(t, 1, fx.Alerts.CountKind(email.KindStaleSession))
	require.Equal(t, "landing_not_verified", fx.Alerts.Last().Reason)
}

func TestNavbar_LinksAreClickable(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	env := SetupBrowserTestEnv(t)
	fx := env.NewLoginFixture(t, env.InitBrowser(t))

	s := AuthenticatedSession(t, fx.Factory, false)
	CaptureOnFailure(t, s, ResultsDir())
	CheckNavbar(t, s, env.Storefront.URL+"/")
}
