package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/models"
)

const (
	SubjectSettled = "mines.settled"
	SubjectBigWin  = "mines.bigwin"
)

// Message is the envelope published on every subject.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the part of *nats.Conn the notifier uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

func Connect(url, token string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("mines-backend"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// NatsNotifier publishes settlements and big wins for other services.
type NatsNotifier struct {
	pub Publisher
}

func NewNatsNotifier(pub Publisher) *NatsNotifier {
	return &NatsNotifier{pub: pub}
}

func (n *NatsNotifier) SessionSettled(ctx context.Context, session *models.GameSession) {
	n.publish(SubjectSettled, "session_settled", session.SettledEvent())
}

func (n *NatsNotifier) BigWin(ctx context.Context, win *models.BigWin) {
	n.publish(SubjectBigWin, "big_win", win.View())
}

func (n *NatsNotifier) publish(subject, typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("failed to marshal %s event: %v", typ, err)
		return
	}
	msg, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		log.Errorf("failed to marshal %s envelope: %v", typ, err)
		return
	}
	if err := n.pub.Publish(subject, msg); err != nil {
		log.WithField("subject", subject).Errorf("failed to publish: %v", err)
	}
}
