package walletd

import (
	"context"
	"fmt"

	"github.com/xssnick/tonutils-go/address"
)

// Networks a wallet account may live on, as advertised in ton_addr replies.
const (
	NetworkMainnet = "-239"
	NetworkTestnet = "-3"
)

// Account describes the wallet account exposed to connecting dapps. Key
// management stays with the embedding wallet; this is presentation data
// only.
type Account struct {
	Address   string // any TON address format; normalized before replying
	PublicKey string // hex-encoded
	StateInit string // base64 BoC of the wallet contract state init
	Network   string
}

// AccountProvider supplies the active account at connect time.
type AccountProvider interface {
	Account(ctx context.Context) (Account, error)
}

// AccountProviderFunc adapts a function to AccountProvider.
type AccountProviderFunc func(ctx context.Context) (Account, error)

func (f AccountProviderFunc) Account(ctx context.Context) (Account, error) { return f(ctx) }

// rawAddress normalizes any supported TON address format to the raw
// workchain:hex form used on the ton_addr wire item.
func rawAddress(s string) (string, error) {
	addr, err := address.ParseAddr(s)
	if err != nil {
		if addr, err = address.ParseRawAddr(s); err != nil {
			return "", fmt.Errorf("invalid TON address %q: %w", s, err)
		}
	}
	return fmt.Sprintf("%d:%x", addr.Workchain(), addr.Data()), nil
}
