package bulk

// Query is one named report sheet. Statements run on a schema-scoped
// connection, so table names are unqualified.
type Query struct {
	Name string `mapstructure:"name"`
	SQL  string `mapstructure:"sql"`
}

// controllerTypes are the devicetype ids of bridge controllers.
const controllerTypes = "56, 57, 59, 60"

func DefaultQueries() []Query {
	return []Query{
		{
			Name: "Devices en slavedevices met comq",
			SQL: `SELECT
    CONCAT('Controller: ', l.bookgroup, ' ', l.locationname) AS controller_name,
    sd.slavedevicetypeid,
    dt.icyname AS slavedevice_name,
    sd.comcount,
    sd.comquality,
    sd.inbridgeid,
    b.hostname,
    b.bridgetype,
    b.comment,
    b.swversion,
    b.bridgestate
FROM device d
JOIN slavedevice sd ON d.deviceid = sd.deviceid
JOIN location l ON d.locationid = l.locationid
JOIN devicetype dt ON sd.slavedevicetypeid = dt.devicetypeid
LEFT JOIN inbridge b ON sd.inbridgeid = b.inbridgeid
WHERE d.devicetypeid IN (` + controllerTypes + `)`,
		},
		{
			Name: "Controller locaties",
			SQL: `SELECT
    l.locationname,
    l.bookgroup,
    l.branchid,
    l.guilocationdataid,
    b.hostname,
    b.bridgetype,
    b.comment,
    b.swversion,
    b.bridgestate
FROM device d
JOIN location l ON d.locationid = l.locationid
LEFT JOIN inbridge b ON d.inbridgeid = b.inbridgeid
WHERE d.devicetypeid IN (` + controllerTypes + `)`,
		},
		{
			Name: "Devices per typeid en aantal",
			SQL: `SELECT
    dt.devicetypeid,
    COUNT(d.deviceid) AS device_count,
    b.hostname,
    b.bridgetype,
    b.comment,
    b.swversion,
    b.bridgestate
FROM device d
JOIN devicetype dt ON d.devicetypeid = dt.devicetypeid
LEFT JOIN inbridge b ON d.inbridgeid = b.inbridgeid
GROUP BY dt.devicetypeid, b.hostname, b.bridgetype, b.comment, b.swversion, b.bridgestate`,
		},
		{
			Name: "Offline devices by devicetypeid",
			SQL: `SELECT
    dt.devicetypeid,
    d.deviceid,
    d.devid,
    d.address,
    b.hostname,
    b.bridgetype,
    b.comment,
    b.swversion,
    b.bridgestate
FROM device d
JOIN devicetype dt ON d.devicetypeid = dt.devicetypeid
LEFT JOIN inbridge b ON d.inbridgeid = b.inbridgeid
WHERE d.devicetypeid NOT IN (` + controllerTypes + `)
GROUP BY dt.devicetypeid, d.deviceid, d.devid, d.address, b.hostname, b.bridgetype, b.comment, b.swversion, b.bridgestate`,
		},
		{
			Name: "Inbridge data",
			SQL: `SELECT hostname, bridgetype, comment, swversion, bridgestate
FROM inbridge
GROUP BY hostname, bridgetype, comment, swversion, bridgestate`,
		},
	}
}
