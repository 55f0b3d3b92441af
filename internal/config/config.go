package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings keeps all configuration options.
// Key names mirror the operator's settings.yaml sections.
type Settings struct {
	Settings        Runtime         `mapstructure:"settings"`
	Captcha         Captcha         `mapstructure:"captcha"`
	Transfer        Transfer        `mapstructure:"transfer"`
	Swap            Swap            `mapstructure:"swap"`
	Bundle          Bundle          `mapstructure:"bundle"`
	ActionsCount    ActionsCount    `mapstructure:"actions_count"`
	UnifiedTokenGas UnifiedTokenGas `mapstructure:"unified_token_gas"`
	Network         Network         `mapstructure:"network"`
	Files           Files           `mapstructure:"files"`
}

type Runtime struct {
	Threads                    int     `mapstructure:"threads"`
	Attempts                   int     `mapstructure:"attempts"`
	PauseBetweenAttempts       Range   `mapstructure:"pause_between_attempts"`
	PauseBetweenSwaps          Range   `mapstructure:"pause_between_swaps"`
	RandomPauseBetweenAccounts Range   `mapstructure:"random_pause_between_accounts"`
	RandomPauseBetweenActions  Range   `mapstructure:"random_pause_between_actions"`
	RandomInitializationPause  Range   `mapstructure:"random_initialization_pause"`
	AccountsRange              Range   `mapstructure:"accounts_range"`
	ExactAccountsToUse         []int   `mapstructure:"exact_accounts_to_use"`
	ShuffleWallets             bool    `mapstructure:"shuffle_wallets"`
	NonceCheckInitialWait      float64 `mapstructure:"nonce_check_initial_wait_after_deploy"`
	NonceCheckAttemptsAfter    int     `mapstructure:"nonce_check_attempts_after_deploy"`
	NonceCheckProgressiveDelay float64 `mapstructure:"nonce_check_progressive_delay"`
	// NonceCheckTimeout bounds each deployment and nonce read, doubled behind a proxy.
	NonceCheckTimeout          float64 `mapstructure:"nonce_check_timeout"`
}

type Captcha struct {
	Provider      string `mapstructure:"provider"`
	SolviumKey    string `mapstructure:"solvium_key"`
	TwoCaptchaKey string `mapstructure:"captcha_2captcha_key"`
}

// Key returns the API key of the selected provider.
func (c Captcha) Key() string {
	if strings.EqualFold(c.Provider, "solvium") {
		return c.SolviumKey
	}
	return c.TwoCaptchaKey
}

type Transfer struct {
	TCENT Range `mapstructure:"tcent_transfer_amount"`
	SMPL  Range `mapstructure:"smpl_transfer_amount"`
	BULL  Range `mapstructure:"bull_transfer_amount"`
	FLIP  Range `mapstructure:"flip_transfer_amount"`
}

// Amount returns the transfer range for a ticker.
func (t Transfer) Amount(symbol string) (Range, bool) {
	switch strings.ToUpper(symbol) {
	case "TCENT":
		return t.TCENT, true
	case "SMPL":
		return t.SMPL, true
	case "BULL":
		return t.BULL, true
	case "FLIP":
		return t.FLIP, true
	}
	return Range{}, false
}

type Swap struct {
	TCENT Range `mapstructure:"tcent_swap_amount"`
	SMPL  Range `mapstructure:"smpl_swap_amount"`
	BULL  Range `mapstructure:"bull_swap_amount"`
	FLIP  Range `mapstructure:"flip_swap_amount"`
}

// Amount returns the swap range for a ticker.
func (s Swap) Amount(symbol string) (Range, bool) {
	switch strings.ToUpper(symbol) {
	case "TCENT":
		return s.TCENT, true
	case "SMPL":
		return s.SMPL, true
	case "BULL":
		return s.BULL, true
	case "FLIP":
		return s.FLIP, true
	}
	return Range{}, false
}

type Bundle struct {
	ActionAmount Range `mapstructure:"bundle_action_amount"`
}

type ActionsCount struct {
	AddContacts   Range `mapstructure:"add_contacts"`
	Transfers     Range `mapstructure:"transfers"`
	Swaps         Range `mapstructure:"swaps"`
	BundleActions Range `mapstructure:"bundle_actions"`
}

type UnifiedTokenGas struct {
	Enabled         bool     `mapstructure:"enabled"`
	MinTokenBalance float64  `mapstructure:"min_token_balance"`
	GasTokens       []string `mapstructure:"gas_tokens"`
	RandomizeToken  bool     `mapstructure:"randomize_token"`
}

type Network struct {
	APIURL       string  `mapstructure:"api_url"`
	RPCURL       string  `mapstructure:"rpc_url"`
	BundlerURL   string  `mapstructure:"bundler_url"`
	ExplorerURL  string  `mapstructure:"explorer_url"`
	PageURL      string  `mapstructure:"page_url"`
	SiteKey      string  `mapstructure:"site_key"`
	RPCRateLimit float64 `mapstructure:"rpc_rate_limit"`
	HTTPTimeout  int     `mapstructure:"http_timeout"`
}

type Files struct {
	Accounts    string `mapstructure:"accounts"`
	Proxies     string `mapstructure:"proxies"`
	Database    string `mapstructure:"database"`
	RefCode     string `mapstructure:"ref_code"`
	NewAccounts string `mapstructure:"new_accounts"`
	Failed      string `mapstructure:"failed"`
}

// DefaultPath resolves the settings file location from the environment, supporting both
// UPPER_CASE and lower_case keys.
func DefaultPath() string {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	return get([]string{"incentiv_config", "INCENTIV_CONFIG"}, "settings.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("settings.threads", 1)
	v.SetDefault("settings.attempts", 5)
	v.SetDefault("settings.pause_between_attempts", []any{1, 3})
	v.SetDefault("settings.pause_between_swaps", []any{3, 10})
	v.SetDefault("settings.random_pause_between_accounts", []any{1, 5})
	v.SetDefault("settings.random_pause_between_actions", []any{1, 3})
	v.SetDefault("settings.random_initialization_pause", []any{1, 3})
	v.SetDefault("settings.accounts_range", []any{0, 0})
	v.SetDefault("settings.exact_accounts_to_use", []int{})
	v.SetDefault("settings.shuffle_wallets", true)
	v.SetDefault("settings.nonce_check_initial_wait_after_deploy", 10)
	v.SetDefault("settings.nonce_check_attempts_after_deploy", 4)
	v.SetDefault("settings.nonce_check_progressive_delay", 2)
	v.SetDefault("settings.nonce_check_timeout", 12)

	v.SetDefault("captcha.provider", "2captcha")
	v.SetDefault("captcha.solvium_key", "")
	v.SetDefault("captcha.captcha_2captcha_key", "")

	v.SetDefault("transfer.tcent_transfer_amount", []any{0.001, 0.005})
	v.SetDefault("transfer.smpl_transfer_amount", []any{0.001, 0.005})
	v.SetDefault("transfer.bull_transfer_amount", []any{0.001, 0.005})
	v.SetDefault("transfer.flip_transfer_amount", []any{0.001, 0.005})
	v.SetDefault("swap.tcent_swap_amount", []any{0.001, 0.005})
	v.SetDefault("swap.smpl_swap_amount", []any{0.001, 0.005})
	v.SetDefault("swap.bull_swap_amount", []any{0.001, 0.005})
	v.SetDefault("swap.flip_swap_amount", []any{0.001, 0.005})
	v.SetDefault("bundle.bundle_action_amount", []any{0.001, 0.003})

	v.SetDefault("actions_count.add_contacts", []any{3, 3})
	v.SetDefault("actions_count.transfers", []any{3, 3})
	v.SetDefault("actions_count.swaps", []any{3, 3})
	v.SetDefault("actions_count.bundle_actions", []any{1, 1})

	v.SetDefault("unified_token_gas.enabled", false)
	v.SetDefault("unified_token_gas.min_token_balance", 0.01)
	v.SetDefault("unified_token_gas.gas_tokens", []string{"SMPL", "BULL", "FLIP"})
	v.SetDefault("unified_token_gas.randomize_token", true)

	v.SetDefault("network.api_url", "https://api.testnet.incentiv.io")
	v.SetDefault("network.rpc_url", "https://rpc1.testnet.incentiv.io/")
	v.SetDefault("network.bundler_url", "https://bundler-testnet.incentiv.io/")
	v.SetDefault("network.explorer_url", "https://explorer-testnet.incentiv.io/op/")
	v.SetDefault("network.page_url", "https://testnet.incentiv.io")
	v.SetDefault("network.site_key", "0x4AAAAAABl4Ht6hzgSZ-Na3")
	v.SetDefault("network.rpc_rate_limit", 10)
	v.SetDefault("network.http_timeout", 60)

	v.SetDefault("files.accounts", "data/accounts.txt")
	v.SetDefault("files.proxies", "data/proxies.txt")
	v.SetDefault("files.database", "data/incentiv.db")
	v.SetDefault("files.ref_code", "")
	v.SetDefault("files.new_accounts", "data/new_accounts.txt")
	v.SetDefault("files.failed", "data/failed.txt")
}

// Load reads .env files, then the YAML settings file at path, then INCENTIV_* environment overrides.
// A missing settings file is tolerated when allowMissing is set; defaults fill every key.
func Load(path string, allowMissing bool) (Settings, error) {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("INCENTIV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !(allowMissing && errors.Is(err, os.ErrNotExist)) {
				return Settings{}, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	var st Settings
	hook := mapstructure.ComposeDecodeHookFunc(
		rangeHook,
		stringToIntSlice,
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&st, viper.DecodeHook(hook)); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	st.normalize()
	if err := st.Validate(); err != nil {
		return Settings{}, err
	}
	return st, nil
}

func (st *Settings) normalize() {
	st.Captcha.Provider = strings.ToLower(strings.TrimSpace(st.Captcha.Provider))
	for i, t := range st.UnifiedTokenGas.GasTokens {
		st.UnifiedTokenGas.GasTokens[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	st.Network.APIURL = strings.TrimRight(st.Network.APIURL, "/")
	st.Network.PageURL = strings.TrimRight(st.Network.PageURL, "/")
}

// Validate rejects settings the run loop cannot work with.
func (st Settings) Validate() error {
	if st.Settings.Threads < 1 {
		return fmt.Errorf("settings.threads must be >= 1, got %d", st.Settings.Threads)
	}
	if st.Settings.Attempts < 1 {
		return fmt.Errorf("settings.attempts must be >= 1, got %d", st.Settings.Attempts)
	}
	switch st.Captcha.Provider {
	case "2captcha", "solvium":
	default:
		return fmt.Errorf("captcha.provider %q is not supported (2captcha|solvium)", st.Captcha.Provider)
	}
	if st.UnifiedTokenGas.MinTokenBalance < 0 {
		return errors.New("unified_token_gas.min_token_balance must not be negative")
	}
	return nil
}

// stringToIntSlice decodes "1,4,7" from environment overrides into []int.
func stringToIntSlice(_ reflect.Type, to reflect.Type, data any) (any, error) {
	s, ok := data.(string)
	if !ok || to != reflect.TypeOf([]int(nil)) {
		return data, nil
	}
	out := []int{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
