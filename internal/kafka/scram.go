package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

var _ sarama.SCRAMClient = (*scramClient)(nil)

// scramClient runs one SCRAM conversation for sarama.
type scramClient struct {
	hashGen scram.HashGeneratorFcn
	conv    *scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashGen.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conv = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conv.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conv.Done()
}

// scramMechanism maps a SASL mechanism name to sarama's mechanism and a
// generator of clients that speak it.
func scramMechanism(name string) (sarama.SASLMechanism, func() sarama.SCRAMClient, error) {
	var mechanism sarama.SASLMechanism
	var hashGen scram.HashGeneratorFcn
	switch name {
	case "SCRAM-SHA-256":
		mechanism, hashGen = sarama.SASLTypeSCRAMSHA256, scram.SHA256
	case "SCRAM-SHA-512":
		mechanism, hashGen = sarama.SASLTypeSCRAMSHA512, scram.SHA512
	default:
		return "", nil, fmt.Errorf("not a SCRAM mechanism: %s", name)
	}
	return mechanism, func() sarama.SCRAMClient {
		return &scramClient{hashGen: hashGen}
	}, nil
}
