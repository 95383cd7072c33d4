package mqtt

import "fmt"

// Topics is the topic table for one train.
type Topics struct {
	CamJPEG        string
	CamMeta        string
	Command        string
	Status         string
	Debug          string
	AlertBroadcast string
	AlertDest      string
	Ack            string
	QoS            string
}

// NewTopics substitutes the train id and alert destination into the topic table.
func NewTopics(train, dest string) Topics {
	return Topics{
		CamJPEG:        "obu/cam/jpeg",
		CamMeta:        "obu/cam/meta",
		Command:        fmt.Sprintf("obu/%s/cmd", train),
		Status:         fmt.Sprintf("obu/%s/status", train),
		Debug:          fmt.Sprintf("obu/%s/debug", train),
		AlertBroadcast: "obu/ai/alert",
		AlertDest:      fmt.Sprintf("obu/%s/ai/alert", dest),
		Ack:            "obu/ai/ack",
		QoS:            fmt.Sprintf("obu/%s/qos", train),
	}
}
