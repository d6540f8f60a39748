package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Exchange struct {
	// FeeAccount collects the settlement fee on every filled order.
	FeeAccount common.Address
	// FeePercent is the integer percent of buyAmount charged to the buyer.
	FeePercent uint64
	// Custody is the bank wallet that holds all deposited funds.
	Custody common.Address
}

type Node struct {
	DataDir   string // pebble databases live under here
	APIListen string // REST/WebSocket listen address
	LogFile   string
}

// Genesis seeds the external bank at first boot so deposits have something
// to pull from. Empty supply disables seeding.
type Genesis struct {
	Account      common.Address
	NativeSupply string // base-10 amount minted to Account
}

type Config struct {
	Exchange Exchange
	Node     Node
	Genesis  Genesis
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeAccount: common.HexToAddress("0x00000000000000000000000000000000000Fee00"),
			FeePercent: 10,
			Custody:    common.HexToAddress("0x000000000000000000000000000000000E5C0000"),
		},
		Node: Node{
			DataDir:   "./data",
			APIListen: ":8080",
			LogFile:   "data/node.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("FEE_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Exchange.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		if pct, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Exchange.FeePercent = pct
		}
	}
	if v := os.Getenv("CUSTODY_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Exchange.Custody = common.HexToAddress(v)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.Node.APIListen = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("GENESIS_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Genesis.Account = common.HexToAddress(v)
	}
	if v := os.Getenv("GENESIS_NATIVE_SUPPLY"); v != "" {
		cfg.Genesis.NativeSupply = v
	}

	return cfg
}
