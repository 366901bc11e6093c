package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/DevN0mad/JoinersLeavers/internal/server"
	"github.com/DevN0mad/JoinersLeavers/internal/services"
	"github.com/DevN0mad/JoinersLeavers/internal/storage"
)

// Config представляет конфигурацию приложения.
type Config struct {
	Dataset     services.DatasetOpts   `mapstructure:"dataset"`
	Report      services.ReportOpts    `mapstructure:"report"`
	TelegramBot services.TelegramOpts  `mapstructure:"telegram_bot"`
	DailyJob    services.DailyJobOpts  `mapstructure:"daily_job"`
	HttpServer  server.AdminServerOpts `mapstructure:"http_server"`
	Storage     storage.Opts           `mapstructure:"storage"`
}

// Manager управляет конфигурацией приложения, обеспечивая загрузку,
// проверку и перезагрузку при изменении файла.
type Manager struct {
	mu          sync.RWMutex
	cfg         *Config
	logger      *slog.Logger
	v           *viper.Viper
	subscribers []func(Config)
	validate    *validator.Validate
}

// setDefaults значения, которые можно не указывать в файле.
func setDefaults(v *viper.Viper) {
	def := services.DefaultNormalizeOpts()
	v.SetDefault("dataset.timeout_seconds", 30)
	v.SetDefault("dataset.normalize.anchor_column", def.AnchorColumn)
	v.SetDefault("dataset.normalize.anchor_offset", def.AnchorOffset)
	v.SetDefault("dataset.normalize.scan_rows", def.ScanRows)
	v.SetDefault("report.save_dir", "./reports")
	v.SetDefault("report.recent_limit", 5)
	v.SetDefault("daily_job.hour", 9)
	v.SetDefault("http_server.address", ":8080")
	v.SetDefault("http_server.read_timeout_seconds", 15)
	v.SetDefault("http_server.write_timeout_seconds", 60)
	v.SetDefault("http_server.idle_timeout_seconds", 120)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")
	setDefaults(v)
	return v
}

// bindEnv регистрирует все ключи Config, иначе Unmarshal не видит JL_* переменные
// для ключей, которых нет ни в файле, ни в значениях по умолчанию.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
			bindEnv(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

func decode(v *viper.Viper, validate *validator.Validate) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Load читает и проверяет конфигурацию без отслеживания изменений.
func Load(path string) (Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	return decode(v, validator.New())
}

// NewManager создает новый менеджер конфигурации, загружая конфигурацию из указанного пути.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	m := &Manager{
		logger:   logger,
		v:        v,
		validate: validator.New(),
	}

	cfg, err := decode(v, m.validate)
	if err != nil {
		logger.Error("Validate config", "error", err)
		return nil, err
	}
	m.cfg = &cfg

	logger.Info("Config loaded", "path", path)

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed", "name", e.Name, "op", e.Op.String())

		newCfg, err := decode(v, m.validate)
		if err != nil {
			logger.Error("Failed to reload config", "error", err)
			return
		}

		m.mu.Lock()
		m.cfg = &newCfg
		subs := append([]func(Config){}, m.subscribers...)
		m.mu.Unlock()

		logger.Info("Config reloaded successfully")

		for _, fn := range subs {
			fn(newCfg)
		}
	})
	v.WatchConfig()

	return m, nil
}

// Current возвращает текущую конфигурацию.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cfg
}

// OnChange регистрирует функцию обратного вызова, которая будет вызвана при изменении конфигурации.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}
