package domain

import "errors"

const SubscriptionHint = "Did you update the subscription info?"

var ErrEmptyInput = errors.New("empty audio input")
