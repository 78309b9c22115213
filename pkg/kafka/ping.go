package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/prohmpiriya/ticket-rush/pkg/retry"
)

// pingWithRetry waits for a broker to answer. The client is closed when it
// never does.
func pingWithRetry(ctx context.Context, client *kgo.Client, retries int, interval time.Duration) error {
	err := retry.Run(ctx, &retry.Config{
		MaxRetries:      retries,
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1,
	}, client.Ping)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to kafka after %d attempts: %w", retries+1, err)
	}
	return nil
}
