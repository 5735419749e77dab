package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kisaan-ledger/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "kisaan-prod"}

	require.Equal(t, "projects/kisaan-prod/topics/ledger", resourceName(c, "ledger", "topics"))
	require.Equal(t, "projects/kisaan-prod/subscriptions/auditor", resourceName(c, " auditor ", "subscriptions"))
	require.Equal(t, "projects/other/topics/ledger", resourceName(c, "projects/other/topics/ledger", "topics"))
	require.Equal(t, "", resourceName(c, "", "topics"))
	require.Equal(t, "", resourceName(&Client{}, "auditor", "subscriptions"))
	require.Equal(t, "", resourceName(nil, "ledger", "topics"))
}

func TestNilClientIsInert(t *testing.T) {
	var c *Client
	require.Nil(t, c.Publisher("ledger"))
	require.Nil(t, c.LedgerSubscription())
	require.NoError(t, c.Close())
	require.Error(t, c.Ping(context.Background()))
}

func TestRequiredResourcesFollowRole(t *testing.T) {
	cfg := config.PubSubConfig{LedgerTopic: " kl-ledger-events ", LedgerSubscription: "kl-ledger-auditor"}

	res, err := requiredResources(RolePublisher, cfg)
	require.NoError(t, err)
	require.Equal(t, []resource{{kind: "topics", name: "kl-ledger-events"}}, res)

	res, err = requiredResources(RoleAuditor, cfg)
	require.NoError(t, err)
	require.Equal(t, []resource{{kind: "subscriptions", name: "kl-ledger-auditor"}}, res)

	_, err = requiredResources(RoleAuditor, config.PubSubConfig{LedgerTopic: "t"})
	require.Error(t, err)
	_, err = requiredResources(RolePublisher, config.PubSubConfig{LedgerSubscription: "s"})
	require.Error(t, err)
	_, err = requiredResources(Role("archiver"), cfg)
	require.ErrorIs(t, err, errUnknownRole)
}

func TestNewClientValidatesBeforeDialing(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, RolePublisher, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "kisaan-prod"}, config.PubSubConfig{}, RoleAuditor, nil)
	require.Error(t, err)
}
