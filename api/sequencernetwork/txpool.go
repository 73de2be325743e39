package sequencernetwork

import (
	"context"
	"encoding/json"

	"dispute-rollup/common"
	"dispute-rollup/log"

	"github.com/libp2p/go-libp2p-core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

const txsTopicName = "transactions"

// pubSubTxsPool represents a subscription to a single PubSub topic.  Messages
// can be published to the topic with pubSubTxsPool.publish, and received
// messages are pushed to the handler.
type pubSubTxsPool struct {
	ctx     context.Context
	ps      *pubsub.PubSub
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	self    peer.ID
	handler func(common.Tx) error
}

func joinPubSubTxsPool(ctx context.Context, ps *pubsub.PubSub, selfID peer.ID,
	handler func(common.Tx) error) (pubSubTxsPool, error) {
	topic, err := ps.Join(txsTopicName)
	if err != nil {
		return pubSubTxsPool{}, common.Wrap(err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return pubSubTxsPool{}, common.Wrap(err)
	}
	txsPool := pubSubTxsPool{
		ctx:     ctx,
		ps:      ps,
		topic:   topic,
		sub:     sub,
		self:    selfID,
		handler: handler,
	}
	go txsPool.readLoop()
	return txsPool, nil
}

func (p pubSubTxsPool) publish(tx common.Tx) error {
	msgBytes, err := json.Marshal(tx)
	if err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(p.topic.Publish(p.ctx, msgBytes))
}

// readLoop pulls messages from the pubsub topic and delivers them to the
// handler.  Messages published by this same node are dropped.
func (p pubSubTxsPool) readLoop() {
	for {
		msg, err := p.sub.Next(p.ctx)
		if err != nil {
			log.Info("Closing pubsub read loop: ", err)
			return
		}
		if msg.ReceivedFrom == p.self {
			continue
		}
		tx := common.Tx{}
		if err := json.Unmarshal(msg.Data, &tx); err != nil {
			log.Warnw("Error unmarshalling tx received from the sequencers network",
				"err", err)
			continue
		}
		if err := p.handler(tx); err != nil {
			log.Warnw("Error handling tx received from the sequencers network",
				"txID", tx.TxID, "err", err)
		}
	}
}

func (p pubSubTxsPool) close() {
	p.sub.Cancel()
	if err := p.topic.Close(); err != nil {
		log.Warnw("Error closing pubsub topic", "err", err)
	}
}
