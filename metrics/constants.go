package metrics

const (
	DefaultPrometheusPath = "/metrics"

	MaterialProvidersPrefix = "material_providers_"

	// Materials manager get metrics
	MaterialsManagerGetLatency  = MaterialProvidersPrefix + "materials_manager_get_latency"
	MaterialsManagerGetRequests = MaterialProvidersPrefix + "materials_manager_get_requests"
	MaterialsManagerGetErrors   = MaterialProvidersPrefix + "materials_manager_get_errors"
	MaterialsManagerGetSuccess  = MaterialProvidersPrefix + "materials_manager_get_success"

	// Materials manager decrypt metrics
	MaterialsManagerDecryptLatency  = MaterialProvidersPrefix + "materials_manager_decrypt_latency"
	MaterialsManagerDecryptRequests = MaterialProvidersPrefix + "materials_manager_decrypt_requests"
	MaterialsManagerDecryptErrors   = MaterialProvidersPrefix + "materials_manager_decrypt_errors"
	MaterialsManagerDecryptSuccess  = MaterialProvidersPrefix + "materials_manager_decrypt_success"
)
