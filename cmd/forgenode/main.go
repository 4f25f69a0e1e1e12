// Command forgenode starts a ForgeChain validating node.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ledgerforge/forgechain/config"
	"github.com/ledgerforge/forgechain/consensus"
	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/crypto/certgen"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/fees"
	"github.com/ledgerforge/forgechain/forkdb"
	"github.com/ledgerforge/forgechain/indexer"
	"github.com/ledgerforge/forgechain/maintenance"
	"github.com/ledgerforge/forgechain/market"
	"github.com/ledgerforge/forgechain/network"
	"github.com/ledgerforge/forgechain/rpc"
	"github.com/ledgerforge/forgechain/storage"
	"github.com/ledgerforge/forgechain/vm"
	"github.com/ledgerforge/forgechain/wallet"

	"go.uber.org/zap"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/ledgerforge/forgechain/vm/modules/account"
	_ "github.com/ledgerforge/forgechain/vm/modules/assetops"
	_ "github.com/ledgerforge/forgechain/vm/modules/governance"
	_ "github.com/ledgerforge/forgechain/vm/modules/marketops"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "witness.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new witness key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	witnessName := flag.String("witness", "", "genesis account name this node produces blocks for (empty -> sync-only node)")
	flag.Parse()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("zap logger: %v", err)
	}
	defer zapLogger.Sync()
	market.SetLogger(zapLogger)
	consensus.SetLogger(zapLogger)

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("FORGECHAIN_PASSWORD")
	if password == "" {
		log.Println("WARNING: FORGECHAIN_PASSWORD not set — keystore will use an empty password")
	}

	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key: %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	blockStore := storage.NewLevelBlockStore(db)
	state := storage.NewStateDB(db)

	chain := core.NewChain()
	storage.Attach(state, chain)

	bc := core.NewBlockchain(blockStore)
	if err := bc.Init(); err != nil {
		log.Fatalf("blockchain init: %v", err)
	}

	if bc.Tip() == nil {
		genesisBlock, err := config.BuildGenesisChain(cfg, chain, time.Now().Unix())
		if err != nil {
			log.Fatalf("genesis: %v", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			log.Fatalf("add genesis: %v", err)
		}
		if err := state.Commit(); err != nil {
			log.Fatalf("commit genesis state: %v", err)
		}
		log.Printf("Genesis block committed: %s", genesisBlock.ID)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(chain, fees.Default(), emitter)
	mkt := market.New(chain, fees.Default(), emitter)
	maint := maintenance.New(chain, emitter)

	var witness *consensus.Witness
	if *witnessName != "" {
		witnessID, err := findWitnessByAccountName(chain, *witnessName)
		if err != nil {
			log.Fatalf("witness lookup: %v", err)
		}
		witness = consensus.New(cfg, bc, chain, mempool, exec, mkt, emitter, witnessID, privKey)
	}

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	var validator network.BlockValidator
	if witness != nil {
		validator = witness
	}
	tree := forkdb.New(chain, exec, bc, emitter, bc.Tip(), 10)

	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, mempool, tlsCfg)
	syncer := network.NewSyncer(node, bc, validator, tree)
	if err := node.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		if peer := node.Peer(sp.ID); peer != nil {
			var from int64
			if tip := bc.Tip(); tip != nil {
				from = tip.Header.BlockNum + 1
			}
			if err := syncer.RequestBlocks(peer, from); err != nil {
				log.Printf("request blocks from %s: %v", sp.ID, err)
			}
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(bc, mempool, chain, idx, cfg.Genesis.ChainID)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken, emitter)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	done := make(chan struct{})
	var wg sync.WaitGroup

	if witness != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			witness.Run(2*time.Second, newSecretSource(), done)
		}()
		log.Printf("Consensus running (witness key: %s)", privKey.Public().Hex())
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runMaintenanceLoop(chain, maint, state, done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// 1. Stop consensus and maintenance first (no further state mutation).
	close(done)
	wg.Wait()

	// 2. Flush whatever the shutdown window left buffered.
	if err := state.Commit(); err != nil {
		log.Printf("final state commit: %v", err)
	}

	// 3. Deferred calls run in LIFO: rpcServer.Stop -> node.Stop -> db.Close
	log.Println("Shutdown complete.")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func findWitnessByAccountName(chain *core.Chain, name string) (objdb.ID, error) {
	acc, ok := chain.AccountByName(name)
	if !ok {
		return objdb.ID{}, fmt.Errorf("no genesis account named %q", name)
	}
	accID := acc.ObjID()
	var found objdb.ID
	var ok2 bool
	chain.Witnesses.Each(func(obj objdb.Object) {
		w := obj.(*core.Witness)
		if w.Account == accID {
			found, ok2 = w.ObjID(), true
		}
	})
	if !ok2 {
		return objdb.ID{}, fmt.Errorf("account %q is not a witness", name)
	}
	return found, nil
}

// newSecretSource returns a closure producing a fresh reveal secret each
// round. A real deployment persists the last committed secret across
// restarts; this demo loop regenerates one from the process RNG every tick.
func newSecretSource() func() string {
	return func() string {
		id, err := wallet.Generate()
		if err != nil {
			return fmt.Sprintf("%d", time.Now().UnixNano())
		}
		return id.PubKey()
	}
}

func runMaintenanceLoop(chain *core.Chain, maint *maintenance.Runner, state *storage.StateDB, done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			global := chain.Global()
			if global == nil {
				continue
			}
			now := time.Now().Unix()
			if now < global.NextMaintenance {
				continue
			}
			if err := maint.Run(now); err != nil {
				log.Printf("[maintenance] run error: %v", err)
				continue
			}
			if err := state.Commit(); err != nil {
				log.Printf("[maintenance] state commit error: %v", err)
			}
		}
	}
}
