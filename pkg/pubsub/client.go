package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
)

// Role names which side of the ledger event stream a binary sits on. It
// decides which resources must exist at boot and on Ping.
type Role string

const (
	// RolePublisher relays outbox rows onto the ledger topic.
	RolePublisher Role = "publisher"
	// RoleAuditor consumes the ledger subscription.
	RoleAuditor Role = "auditor"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errUnknownRole       = errors.New("unknown pubsub role")
)

// Client owns the Pub/Sub connection for one binary and caches a publisher
// per topic so batching state survives across outbox ticks.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	role      Role

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and verifies that the resources role depends on exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if _, err := requiredResources(role, cfg); err != nil {
		return nil, err
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     psClient,
		projectID:  gcp.ProjectID,
		cfg:        cfg,
		role:       role,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"role":         string(role),
			"topic":        cfg.LedgerTopic,
			"subscription": cfg.LedgerSubscription,
		}), "pubsub client initialized")
	}
	return c, nil
}

type resource struct {
	kind string
	name string
}

func requiredResources(role Role, cfg config.PubSubConfig) ([]resource, error) {
	switch role {
	case RolePublisher:
		topic := strings.TrimSpace(cfg.LedgerTopic)
		if topic == "" {
			return nil, errors.New("ledger topic is required")
		}
		return []resource{{kind: "topics", name: topic}}, nil
	case RoleAuditor:
		sub := strings.TrimSpace(cfg.LedgerSubscription)
		if sub == "" {
			return nil, errors.New("ledger subscription is required")
		}
		return []resource{{kind: "subscriptions", name: sub}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownRole, role)
	}
}

func (c *Client) verify(ctx context.Context) error {
	resources, err := requiredResources(c.role, c.cfg)
	if err != nil {
		return err
	}
	for _, res := range resources {
		full := resourceName(c, res.name, res.kind)
		switch res.kind {
		case "topics":
			_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		default:
			_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
		}
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s %q does not exist", strings.TrimSuffix(res.kind, "s"), res.name)
		}
		if err != nil {
			return fmt.Errorf("checking %s: %w", full, err)
		}
	}
	return nil
}

// LedgerSubscription returns the subscriber the ledger auditor consumes.
func (c *Client) LedgerSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c, c.cfg.LedgerSubscription, "subscriptions")
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// Publisher returns the cached publisher for a topic id or resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c, name, "topics")
	if full == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	c.publishers[full] = p
	return p
}

// Ping re-checks the resources this client's role depends on.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.verify(ctx)
}

// Close flushes cached publishers and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for key, p := range c.publishers {
		p.Stop()
		delete(c.publishers, key)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func resourceName(c *Client, name, kind string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
