// Package queue provides a RabbitMQ client with the send / receive / delete
// semantics of a managed pull queue.
//
// # Overview
//
// Messages are published to a named queue through the default exchange and
// pulled with basic.get. A received message is not acknowledged until the
// caller deletes it by its receipt handle, so a consumer that crashes or fails
// to process a message leaves it on the queue for another attempt.
//
//	client := queue.NewClient(queue.Config{
//		Username: "guest",
//		Password: "guest",
//		Host:     "localhost",
//		Port:     5672,
//		Vhost:    "/",
//	}, queue.WithVisibilityTimeout(30*time.Second))
//
//	if err := client.Connect(); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.DeclareQueue("orders", true); err != nil {
//		log.Fatal(err)
//	}
//
//	deliveries, err := client.Receive(ctx, "orders", 10, 20*time.Second)
//	if err != nil {
//		return err
//	}
//
//	for _, d := range deliveries {
//		if process(d.Body) == nil {
//			_ = client.Delete(ctx, d.ReceiptHandle)
//		}
//	}
//
// # Receipt handles
//
// A receipt handle encodes the channel generation and the delivery tag. It
// becomes stale when the delivery is acknowledged, when its visibility timeout
// expires and the delivery is handed back to the queue, or when the client
// reconnects on a new channel. Deleting with a stale handle returns
// ErrStaleReceipt.
//
// # Long polling
//
// RabbitMQ has no server-side long poll for basic.get. Receive emulates it by
// polling an empty queue every poll interval until the wait time elapses.
//
// # Logging
//
// The package defines a minimal Logger interface so callers can bridge any
// structured logger without this package importing it.
package queue
