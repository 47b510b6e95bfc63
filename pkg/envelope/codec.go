// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-kmespread.
//
// go-kmespread is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package envelope

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

// ErrMalformed is returned when bytes do not decode to a valid envelope.
var ErrMalformed = errors.New("envelope: malformed")

// Wire layout, protobuf encoding:
//
//	message Envelope {
//	  sint64 generator = 1;
//	  uint32 threshold = 2;
//	  uint64 split     = 3;
//	  Token  token     = 4;
//	}
//	message Token {
//	  uint32 index = 1;
//	  uint32 kind  = 2;
//	  bytes  data  = 3;
//	}
const (
	fieldGenerator protowire.Number = 1
	fieldThreshold protowire.Number = 2
	fieldSplit     protowire.Number = 3
	fieldToken     protowire.Number = 4

	fieldTokenIndex protowire.Number = 1
	fieldTokenKind  protowire.Number = 2
	fieldTokenData  protowire.Number = 3
)

// Marshal encodes the envelope. Fields are always written in field order so
// equal envelopes encode to identical bytes.
func Marshal(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	token := marshalToken(e.Token)

	b := make([]byte, 0, len(token)+32)
	b = protowire.AppendTag(b, fieldGenerator, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Generator))
	b = protowire.AppendTag(b, fieldThreshold, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Threshold))
	b = protowire.AppendTag(b, fieldSplit, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Split)
	b = protowire.AppendTag(b, fieldToken, protowire.BytesType)
	b = protowire.AppendBytes(b, token)
	return b, nil
}

func marshalToken(t share.Token) []byte {
	b := make([]byte, 0, len(t.Data)+8)
	b = protowire.AppendTag(b, fieldTokenIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Index))
	b = protowire.AppendTag(b, fieldTokenKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Kind))
	b = protowire.AppendTag(b, fieldTokenData, protowire.BytesType)
	b = protowire.AppendBytes(b, t.Data)
	return b
}

// Unmarshal decodes and validates an envelope. Unknown fields are skipped.
func Unmarshal(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	var (
		e        Envelope
		hasToken bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldGenerator && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			e.Generator = protowire.DecodeZigZag(v)
			data = data[n:]
		case num == fieldThreshold && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			if v > math.MaxUint8 {
				return nil, fmt.Errorf("%w: threshold %d out of range", ErrMalformed, v)
			}
			e.Threshold = uint8(v)
			data = data[n:]
		case num == fieldSplit && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			e.Split = v
			data = data[n:]
		case num == fieldToken && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			token, err := unmarshalToken(v)
			if err != nil {
				return nil, err
			}
			e.Token = token
			hasToken = true
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !hasToken {
		return nil, fmt.Errorf("%w: missing token", ErrMalformed)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func unmarshalToken(data []byte) (share.Token, error) {
	var t share.Token
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return t, wireError(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldTokenIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return t, wireError(protowire.ParseError(n))
			}
			if v > math.MaxUint8 {
				return t, fmt.Errorf("%w: token index %d out of range", ErrMalformed, v)
			}
			t.Index = uint8(v)
			data = data[n:]
		case num == fieldTokenKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return t, wireError(protowire.ParseError(n))
			}
			if v > math.MaxUint8 {
				return t, fmt.Errorf("%w: token kind %d out of range", ErrMalformed, v)
			}
			t.Kind = share.Kind(v)
			data = data[n:]
		case num == fieldTokenData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return t, wireError(protowire.ParseError(n))
			}
			t.Data = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return t, wireError(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return t, nil
}

func wireError(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
