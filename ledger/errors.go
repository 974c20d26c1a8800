package ledger

import "errors"

var ErrShortAddress = errors.New("ledger: base58 address decodes shorter than an account id")
