package db

import "fmt"

// GetEverythingFromTable dumps all rows from the given table into raw
// strings, one slice per row. Meant for tests and debugging.
func GetEverythingFromTable(d *DB, table string) ([][]string, error) {
	rows, err := d.Queryx(`SELECT * FROM ` + table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result [][]string
	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, col := range cols {
			switch value := col.(type) {
			case nil:
				row[i] = "NULL"
			case []byte:
				row[i] = string(value)
			default:
				row[i] = fmt.Sprint(value)
			}
		}
		result = append(result, row)
	}

	return result, rows.Err()
}
