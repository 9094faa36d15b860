package domain

type ResultReason string

const (
	ReasonRecognized ResultReason = "recognized"
	ReasonNoMatch    ResultReason = "no_match"
	ReasonCanceled   ResultReason = "canceled"
)

type CancellationReason string

const (
	CancellationError   CancellationReason = "error"
	CancellationTimeout CancellationReason = "timeout"
)

type RecognitionRequest struct {
	Audio    []byte
	Language string
}

type Recognition struct {
	Reason       ResultReason
	Text         string
	Cancellation *Cancellation
}

type Cancellation struct {
	Reason    CancellationReason `json:"reason"`
	ErrorCode string             `json:"error_code,omitempty"`
	Details   string             `json:"details,omitempty"`
	// AuthFailure is set when the service rejected the credentials.
	AuthFailure bool `json:"auth_failure,omitempty"`
}

func Recognized(text string) Recognition {
	return Recognition{Reason: ReasonRecognized, Text: text}
}

func NoMatch() Recognition {
	return Recognition{Reason: ReasonNoMatch}
}

func Canceled(c Cancellation) Recognition {
	return Recognition{Reason: ReasonCanceled, Cancellation: &c}
}
