package timescale

const createHypertableInterval = `SELECT hypertable_id, created FROM create_hypertable(
	CAST(? AS REGCLASS),
	by_range(CAST(? AS NAME), CAST(? AS INTERVAL)),
	if_not_exists => ?,
	migrate_data => ?
)`

const createHypertableInteger = `SELECT hypertable_id, created FROM create_hypertable(
	CAST(? AS REGCLASS),
	by_range(CAST(? AS NAME), CAST(? AS BIGINT)),
	if_not_exists => ?,
	migrate_data => ?
)`

const availableHypertables = `SELECT hypertable_schema
	,hypertable_name
	,owner
	,num_dimensions
	,num_chunks
	,compression_enabled
	,tablespaces
FROM timescaledb_information.hypertables`

const tableExists = `SELECT to_regclass(?) IS NOT NULL`

const approximateRowCount = `SELECT approximate_row_count(CAST(? AS REGCLASS))`

const dropChunksOlderThan = `SELECT drop_chunks(CAST(? AS REGCLASS), older_than => CAST(? AS INTERVAL))`

const availableExtension = `SELECT name FROM pg_available_extensions WHERE name = ?`

// createStatement picks the create_hypertable variant matching the chunk
// interval type and returns it with its positional arguments.
func createStatement(p Params) (string, []any) {
	if p.ChunkTimeInterval.IsText {
		return createHypertableInterval, []any{p.TableName, p.TimeColumn, p.ChunkTimeInterval.Text, p.IfNotExists, p.MigrateData}
	}
	return createHypertableInteger, []any{p.TableName, p.TimeColumn, p.ChunkTimeInterval.Micros, p.IfNotExists, p.MigrateData}
}
