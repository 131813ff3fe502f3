package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/fabfab/go-ingest/checksum"
	"github.com/fabfab/go-ingest/config"
	"github.com/fabfab/go-ingest/database"
	"github.com/fabfab/go-ingest/ingestion"
	"github.com/fabfab/go-ingest/knowledge"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "status":
		statusCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

type requestFlags struct {
	source *string
	folder *string
	exts   *string
}

func addRequestFlags(flags *flag.FlagSet) requestFlags {
	return requestFlags{
		source: flags.String("source", config.SourceOdoo, "data files source (odoo or openmrs)"),
		folder: flags.String("folder", "", "folder under the source root"),
		exts:   flags.String("ext", ".csv", "comma separated list of allowed extensions"),
	}
}

func (f requestFlags) request() ingestion.Request {
	return ingestion.Request{
		Source:     *f.source,
		Folder:     *f.folder,
		Extensions: strings.Split(*f.exts, ","),
	}
}

func newStore(cfg config.Config) (checksum.Store, error) {
	switch cfg.ChecksumBackend {
	case config.BackendFile, "":
		return checksum.NewFileStore(osfs.New("/")), nil
	case config.BackendS3:
		return checksum.NewS3Store(checksum.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown checksum backend %q", cfg.ChecksumBackend)
	}
}

func newService(cfg config.Config, logger *log.Logger, recorders ...ingestion.Recorder) *ingestion.Service {
	store, err := newStore(cfg)
	if err != nil {
		logger.Fatalf("checksum store: %v", err)
	}
	layout := checksum.Layout{Root: cfg.ChecksumDir}
	return ingestion.NewService(osfs.New("/"), cfg, store, layout, logger, recorders...)
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	req := addRequestFlags(flags)
	printDocs := flags.Bool("print", false, "print parsed documents to stdout")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clients, err := database.Open(ctx, cfg)
	if err != nil {
		logger.Fatalf("backend connection: %v", err)
	}
	defer clients.Close(ctx)

	var recorders []ingestion.Recorder
	if clients.Postgres != nil {
		if err := database.EnsureLedgerSchema(ctx, clients.Postgres); err != nil {
			logger.Fatalf("ledger schema: %v", err)
		}
		recorders = append(recorders, database.NewLedger(clients.Postgres))
	}
	if clients.Neo4j != nil {
		recorders = append(recorders, knowledge.NewLineage(clients.Neo4j))
	}

	svc := newService(cfg, logger, recorders...)
	report, err := svc.Run(ctx, req.request())
	if err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}

	for _, failure := range report.Failures {
		logger.Printf("failed %s: %v", failure.Path, failure.Err)
	}

	if *printDocs {
		for _, doc := range report.Documents {
			printDocument(doc)
		}
	}
}

func statusCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	req := addRequestFlags(flags)
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse status flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := newService(cfg, logger).Status(ctx, req.request())
	if err != nil {
		logger.Fatalf("status failed: %v", err)
	}

	for _, d := range report.Decisions {
		fmt.Printf("%-9s %s\n", d.Class, d.Path)
	}
	for _, failure := range report.Failures {
		fmt.Printf("%-9s %s (%v)\n", "failed", failure.Path, failure.Err)
	}
	fmt.Printf("\n%d new, %d changed, %d unchanged\n",
		report.Count(ingestion.New), report.Count(ingestion.Changed), report.Count(ingestion.Unchanged))
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	req := addRequestFlags(flags)
	unlock := flags.Bool("lock", false, "also remove a lock left by a crashed run")
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Printf("This will forget every checksum recorded for %s/%s, so all files are ingested again. Continue? [y/N]: ", *req.source, *req.folder)
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := newService(cfg, logger).Clear(ctx, req.request(), *unlock); err != nil {
		logger.Fatalf("clear failed: %v", err)
	}
}

func printDocument(doc ingestion.Document) {
	fmt.Printf("== %s (%s, %s)\n", doc.Path, doc.Format, doc.Class)
	switch {
	case doc.Table != nil:
		out, err := ingestion.BuildCSV(*doc.Table)
		if err != nil {
			fmt.Printf("   %v\n", err)
			return
		}
		fmt.Print(string(out))
	case doc.Tree != nil:
		printNode(doc.Tree, 0)
	}
}

func printNode(node *ingestion.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if node.Text != "" {
		fmt.Printf("%s<%s> %s\n", indent, node.Name, node.Text)
	} else {
		fmt.Printf("%s<%s>\n", indent, node.Name)
	}
	for _, child := range node.Children {
		printNode(child, depth+1)
	}
}

func printUsage() {
	fmt.Println("Usage: go-ingest <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  ingest   Parse new and changed data files (-source, -folder, -ext, -print)")
	fmt.Println("  status   Show which data files would be ingested, without recording anything")
	fmt.Println("  clear    Forget recorded checksums for a folder (-lock removes a stale run lock)")
}
