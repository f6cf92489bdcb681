/*
Package resilience provides the circuit breaker that guards calls to the
secondary data store.

	breaker := resilience.New("airtable", resilience.Settings{
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed", zap.String("name", name), zap.Stringer("to", to))
		},
	})

	records, err := resilience.Do(ctx, breaker, func(ctx context.Context) ([]Record, error) {
		return client.list(ctx, table, opts)
	})

States move Closed -> Open after ReadyToTrip approves, Open -> Half-Open
once Timeout elapses, and Half-Open -> Closed after MaxRequests successes.
A failure while half-open reopens the breaker. Cancelled contexts never
count against the upstream.
*/
package resilience
