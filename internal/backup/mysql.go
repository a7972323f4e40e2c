package backup

import "context"

// MySQLDump snapshots MySQL databases with mysqldump and restores them by
// piping the dump into the mysql client.
type MySQLDump struct {
	DumpBin   string // default "mysqldump"
	ClientBin string // default "mysql"
}

// NewMySQLDump returns a MySQLDump using the given binaries. Empty names fall
// back to the defaults resolved via PATH.
func NewMySQLDump(dumpBin, clientBin string) *MySQLDump {
	if dumpBin == "" {
		dumpBin = "mysqldump"
	}
	if clientBin == "" {
		clientBin = "mysql"
	}
	return &MySQLDump{DumpBin: dumpBin, ClientBin: clientBin}
}

func (m *MySQLDump) Name() string { return "mysql" }

func (m *MySQLDump) Create(ctx context.Context, database, file string, params Params) error {
	args := append(mysqlFlags(params), database)
	return dumpToFile(ctx, command{bin: m.DumpBin, args: args}, file)
}

func (m *MySQLDump) Restore(ctx context.Context, database, file string, params Params) error {
	args := append(mysqlFlags(params), database)
	return restoreFromFile(ctx, command{bin: m.ClientBin, args: args}, file)
}

func mysqlFlags(p Params) []string {
	var args []string
	if p.Host != "" {
		args = append(args, "--host="+p.Host)
	}
	if p.User != "" {
		args = append(args, "--user="+p.User)
	}
	if p.Password != "" {
		args = append(args, "--password="+p.Password)
	}
	if p.Port != "" {
		args = append(args, "-P"+p.Port)
	}
	return args
}
