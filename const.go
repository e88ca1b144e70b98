package bendload

const (
	DatabendTenantHeader    = "X-DATABEND-TENANT"
	DatabendWarehouseHeader = "X-DATABEND-WAREHOUSE"
	DatabendQueryIDHeader   = "X-DATABEND-QUERY-ID"
	Authorization           = "Authorization"
	WarehouseRoute          = "X-DATABEND-ROUTE"
	UserAgent               = "User-Agent"

	accept          = "Accept"
	contentType     = "Content-Type"
	jsonContentType = "application/json; charset=utf-8"

	uploadToStagePath = "/v1/upload_to_stage"
	queryPath         = "/v1/query"
)
