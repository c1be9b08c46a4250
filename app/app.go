package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/starius/api2"
	"gitlab.com/moonship/presale"
	"gitlab.com/moonship/presale/airdrop"
	"gitlab.com/moonship/presale/presaledb"
	"gitlab.com/moonship/presale/pricing"
	"gitlab.com/moonship/presale/wallet"
	"golang.org/x/time/rate"
)

type Config struct {
	ApiAddr       string `short:"a" long:"api-addr" env:"API_ADDR" default:":9580" description:"host:port that the API server listens on"`
	PresaleConfig string `long:"presale-config" env:"PRESALE_CONFIG" default:"presale.yaml" description:"path to presale YAML config"`
	DBCfgPath     string `long:"presale-db-cfg" env:"DB_CFG_PATH" description:"Path to Postgres TOML config, in-memory store if empty"`

	SessionTTL           time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"24h"`
	SessionPruneInterval time.Duration `long:"session-prune-interval" env:"SESSION_PRUNE_INTERVAL" default:"10m"`
	ReportCron           string        `long:"report-cron" env:"REPORT_CRON" default:"@every 10m" description:"cron spec of the progress report, empty to disable"`

	MinContribution string  `long:"min-contribution" env:"MIN_CONTRIBUTION" default:"0" description:"0 means no minimum"`
	MaxContribution string  `long:"max-contribution" env:"MAX_CONTRIBUTION" default:"0" description:"0 means no maximum"`
	WalletRate      float64 `long:"wallet-rate" env:"WALLET_RATE" default:"0" description:"contributions per second per wallet, 0 disables limiting"`
	WalletBurst     int     `long:"wallet-burst" env:"WALLET_BURST" default:"5"`
}

func SettingsFromConfig(c Config, pc *PresaleConfig) (*presale.Settings, error) {
	minContribution, err := decimal.NewFromString(c.MinContribution)
	if err != nil {
		return nil, fmt.Errorf("min contribution: %w", err)
	}
	maxContribution, err := decimal.NewFromString(c.MaxContribution)
	if err != nil {
		return nil, fmt.Errorf("max contribution: %w", err)
	}
	softCap, err := parseAmount("soft_cap", pc.Presale.SoftCap)
	if err != nil {
		return nil, err
	}
	return &presale.Settings{
		SoftCap:              softCap,
		Currency:             pc.Currency(),
		MinContribution:      minContribution,
		MaxContribution:      maxContribution,
		WalletRate:           rate.Limit(c.WalletRate),
		WalletBurst:          c.WalletBurst,
		SessionPruneInterval: c.SessionPruneInterval,
	}, nil
}

func openStorage(c Config, initialRaised decimal.Decimal) (presale.Storage, error) {
	if c.DBCfgPath == "" {
		log.Printf("No DB config given, keeping the raise in memory")
		return presaledb.NewMemoryDB(initialRaised), nil
	}
	pg := presaledb.OpenPostgresWithRetries(c.DBCfgPath)
	pdb, err := presaledb.NewDB(pg, initialRaised)
	if err != nil {
		return nil, err
	}
	return pdb, nil
}

type Presale struct {
	server *http.Server
	cron   *cron.Cron

	presaleCloser io.Closer
}

func New() *Presale {
	return &Presale{}
}

func (p *Presale) Start(c Config) error {
	var reportSchedule cron.Schedule
	if c.ReportCron != "" {
		var err error
		reportSchedule, err = cron.ParseStandard(c.ReportCron)
		if err != nil {
			return fmt.Errorf("invalid report cron %q: %w", c.ReportCron, err)
		}
	}
	pc, err := LoadPresaleConfig(c.PresaleConfig)
	if err != nil {
		return fmt.Errorf("failed to load presale config: %w", err)
	}
	if err := pc.Validate(); err != nil {
		return fmt.Errorf("invalid presale config: %w", err)
	}
	settings, err := SettingsFromConfig(c, pc)
	if err != nil {
		return fmt.Errorf("failed to parse presale settings: %w", err)
	}
	sc, err := pc.ScheduleConfig()
	if err != nil {
		return err
	}
	schedule, err := pricing.GenerateSchedule(sc)
	if err != nil {
		return fmt.Errorf("failed to generate schedule: %w", err)
	}
	initialRaised, err := parseAmount("initial_raised", pc.Presale.InitialRaised)
	if err != nil {
		return err
	}
	storage, err := openStorage(c, initialRaised)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	srv, err := presale.New(settings, schedule, airdrop.New(pc.Airdrop.DropTime, pc.Airdrop.Note), wallet.NewSessions(c.SessionTTL), storage)
	if err != nil {
		storage.Close()
		return fmt.Errorf("could not initialize server: %w", err)
	}
	p.presaleCloser = srv
	log.Printf("%s (%s) presale: %d tiers, hard cap %s %s", pc.Token.Name, pc.Token.Symbol, schedule.Len(), srv.HardCap(), settings.Currency)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	registry.MustRegister(srv.Metrics()...)

	routes := presale.GetRoutes(srv)
	mux := http.NewServeMux()
	api2.BindRoutes(mux, routes)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if reportSchedule != nil {
		p.cron = cron.New()
		p.cron.Schedule(reportSchedule, cron.FuncJob(func() {
			report, err := srv.Report(context.Background())
			if err != nil {
				log.Printf("[report]: %v", err)
				return
			}
			log.Printf("[report]: %s", report)
		}))
		p.cron.Start()
	}

	log.Printf("Listening on %v...", c.ApiAddr)
	p.server = &http.Server{Addr: c.ApiAddr, Handler: mux}

	go func() {
		if err := p.server.ListenAndServe(); err != nil {
			log.Printf("server.ListenAndServe failed: %v.", err)
		}
	}()

	return nil
}

func (p *Presale) Close() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	if p.server != nil {
		if err := p.server.Close(); err != nil {
			log.Printf("server.Close failed: %v.", err)
		}
	}
	if p.presaleCloser != nil {
		if err := p.presaleCloser.Close(); err != nil {
			log.Printf("presale.Close failed: %v", err)
		}
	}
}
