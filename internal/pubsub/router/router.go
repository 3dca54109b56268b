package router

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
)

// Router wraps the watermill router with the middleware every dunning
// handler shares: panic recovery, correlation ids and bounded retries.
type Router struct {
	router *message.Router
	logger *logger.Logger
}

func NewRouter(cfg *config.Configuration, log *logger.Logger) (*Router, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, log.GetWatermillLogger())
	if err != nil {
		return nil, err
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.PubSub.MaxRetries,
		InitialInterval: cfg.PubSub.InitialInterval,
		MaxInterval:     cfg.PubSub.MaxInterval,
		Multiplier:      2,
		Logger:          log.GetWatermillLogger(),
	}

	router.AddMiddleware(
		dropExhausted(log),
		middleware.CorrelationID,
		retry.Middleware,
		middleware.Recoverer,
	)

	return &Router{
		router: router,
		logger: log,
	}, nil
}

// dropExhausted acks a message whose handler still fails after every retry.
// Without it the subscriber would redeliver the message forever.
func dropExhausted(log *logger.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err != nil {
				log.Errorw("dropping message after exhausting retries",
					"error", err,
					"message_uuid", msg.UUID,
				)
				return nil, nil
			}
			return msgs, nil
		}
	}
}

// AddNoPublisherHandler registers a consumer. Extra middlewares such as a
// throttle apply to this handler only.
func (r *Router) AddNoPublisherHandler(
	handlerName string,
	topic string,
	subscriber message.Subscriber,
	handlerFunc message.NoPublishHandlerFunc,
	middlewares ...message.HandlerMiddleware,
) {
	handler := r.router.AddNoPublisherHandler(handlerName, topic, subscriber, handlerFunc)
	if len(middlewares) > 0 {
		handler.AddMiddleware(middlewares...)
	}
	r.logger.Infow("registered pubsub handler", "handler", handlerName, "topic", topic)
}

// Run blocks until ctx is cancelled or Close is called.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	return r.router.Close()
}
