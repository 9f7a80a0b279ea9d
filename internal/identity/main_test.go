package identity

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	goleak.VerifyTestMain(m,
		// keystore.NewKeyStore starts fsnotify watchers that cannot be closed.
		goleak.IgnoreTopFunction("github.com/ethereum/go-ethereum/accounts/keystore.(*watcher).loop"),
		goleak.IgnoreAnyFunction("github.com/fsnotify/fsnotify.(*Watcher).readEvents"),
	)
}
