package backup

import "context"

// PgDump snapshots PostgreSQL databases in pg_dump's custom format and
// restores them with pg_restore --clean.
type PgDump struct {
	DumpBin    string // default "pg_dump"
	RestoreBin string // default "pg_restore"
}

// NewPgDump returns a PgDump using the given binaries. Empty names fall back
// to the defaults resolved via PATH.
func NewPgDump(dumpBin, restoreBin string) *PgDump {
	if dumpBin == "" {
		dumpBin = "pg_dump"
	}
	if restoreBin == "" {
		restoreBin = "pg_restore"
	}
	return &PgDump{DumpBin: dumpBin, RestoreBin: restoreBin}
}

func (p *PgDump) Name() string { return "postgresql" }

func (p *PgDump) Create(ctx context.Context, database, file string, params Params) error {
	args := append([]string{"-Fc"}, pgFlags(params)...)
	args = append(args, database)
	return dumpToFile(ctx, command{bin: p.DumpBin, args: args, env: pgEnv(params)}, file)
}

// Restore drops and recreates every object in the dump. --if-exists keeps
// pg_restore from failing when the target schema was already dropped.
func (p *PgDump) Restore(ctx context.Context, database, file string, params Params) error {
	args := append([]string{"--clean", "--if-exists"}, pgFlags(params)...)
	args = append(args, "--dbname="+database, file)
	return run(ctx, command{bin: p.RestoreBin, args: args, env: pgEnv(params)})
}

func pgFlags(p Params) []string {
	var args []string
	if p.Host != "" {
		args = append(args, "--host="+p.Host)
	}
	if p.User != "" {
		args = append(args, "--username="+p.User)
	}
	if p.Port != "" {
		args = append(args, "--port="+p.Port)
	}
	return args
}

// pgEnv passes the password through the environment; the PostgreSQL tools
// have no password flag.
func pgEnv(p Params) []string {
	if p.Password == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + p.Password}
}
